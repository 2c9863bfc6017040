/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package errors_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/sabouaram/goproxy/errors"
)

var _ = Describe("Error creation", func() {
	BeforeEach(registerTestMessages)

	Describe("creating from a CodeError", func() {
		It("carries the code and message", func() {
			err := TestErrorCode1.Error(nil)
			Expect(err).ToNot(BeNil())
			Expect(err.Code()).To(Equal(uint16(TestErrorCode1)))
			Expect(err.Error()).To(ContainSubstring("test error 1"))
		})

		It("records a single parent", func() {
			parent := errors.New("parent error")
			err := TestErrorCode1.Error(parent)
			Expect(err.HasParent()).To(BeTrue())
			Expect(err.GetParent(false)).To(HaveLen(1))
		})

		It("records multiple parents", func() {
			err := TestErrorCode1.Error(errors.New("parent 1"), errors.New("parent 2"))
			Expect(err.HasParent()).To(BeTrue())
			Expect(len(err.GetParent(false))).To(BeNumerically(">=", 1))
		})
	})

	Describe("New and Newf", func() {
		It("builds a plain coded error", func() {
			err := New(100, "custom error")
			Expect(err).ToNot(BeNil())
			Expect(err.Code()).To(Equal(uint16(100)))
			Expect(err.Error()).To(ContainSubstring("custom error"))
		})

		It("formats the message like fmt.Sprintf", func() {
			err := Newf(200, "error: %s, code: %d", "test", 42)
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("test"))
			Expect(err.Error()).To(ContainSubstring("42"))
		})
	})

	Describe("NewErrorTrace", func() {
		It("carries the given file and line in its trace", func() {
			err := NewErrorTrace(100, "test error", "file.go", 42)
			Expect(err).ToNot(BeNil())
			Expect(err.Code()).To(Equal(uint16(100)))
			Expect(err.GetTrace()).To(ContainSubstring("42"))
		})

		It("clamps an out-of-range code instead of overflowing", func() {
			err := NewErrorTrace(70000, "trace test", "file.go", 100)
			Expect(err).ToNot(BeNil())
			Expect(err.Code()).To(Equal(uint16(65535)))
		})

		It("keeps the line number when the file is empty", func() {
			err := NewErrorTrace(200, "trace test", "", 100)
			Expect(err).ToNot(BeNil())
			Expect(err.Code()).To(Equal(uint16(200)))
		})
	})

	Describe("NewErrorRecovered", func() {
		It("wraps a recovered panic value as a parent", func() {
			err := NewErrorRecovered("panic message", "recovered value")
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("panic message"))
			Expect(err.HasParent()).To(BeTrue())
		})

		It("has no parent when the recovered string is empty", func() {
			err := NewErrorRecovered("panic message", "")
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("panic message"))
			Expect(err.HasParent()).To(BeFalse())
		})

		It("appends extra parents after the recovered value", func() {
			parent := errors.New("parent error")
			err := NewErrorRecovered("panic message", "recovered", parent)
			Expect(err).ToNot(BeNil())
			Expect(err.HasParent()).To(BeTrue())
		})
	})

	Describe("Make", func() {
		It("wraps a plain standard error", func() {
			err := Make(errors.New("standard error"))
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("standard error"))
		})

		It("passes an existing Error through unchanged", func() {
			original := TestErrorCode1.Error(nil)
			err := Make(original)
			Expect(err).ToNot(BeNil())
			Expect(err.IsCode(TestErrorCode1)).To(BeTrue())
		})

		It("returns nil for a nil error", func() {
			Expect(Make(nil)).To(BeNil())
		})
	})

	Describe("MakeIfError", func() {
		It("builds an Error when any argument is non-nil", func() {
			err := MakeIfError(errors.New("error 1"), errors.New("error 2"))
			Expect(err).ToNot(BeNil())
		})

		It("returns nil when every argument is nil", func() {
			Expect(MakeIfError(nil, nil, nil)).To(BeNil())
		})

		It("tolerates a mix of nil and non-nil arguments", func() {
			err := MakeIfError(nil, errors.New("error 1"), nil)
			Expect(err).ToNot(BeNil())
		})
	})

	Describe("AddOrNew", func() {
		It("adds the sub-error onto an existing Error", func() {
			main := TestErrorCode1.Error(nil)
			result := AddOrNew(main, errors.New("sub error"))
			Expect(result).ToNot(BeNil())
			Expect(result.HasParent()).To(BeTrue())
		})

		It("builds a new Error when the main argument is nil", func() {
			result := AddOrNew(nil, errors.New("sub error"))
			Expect(result).ToNot(BeNil())
		})

		It("returns nil when both arguments are nil", func() {
			Expect(AddOrNew(nil, nil)).To(BeNil())
		})

		It("tolerates a nil sub-error", func() {
			main := TestErrorCode1.Error(nil)
			result := AddOrNew(main, nil)
			Expect(result).ToNot(BeNil())
			Expect(result.IsCode(TestErrorCode1)).To(BeTrue())
		})

		It("appends the extra parent arguments too", func() {
			main := TestErrorCode1.Error(nil)
			result := AddOrNew(main, errors.New("sub error"), errors.New("parent error"))
			Expect(result).ToNot(BeNil())
			Expect(result.HasParent()).To(BeTrue())
		})
	})

	Describe("IfError", func() {
		It("builds an Error when a parent is given", func() {
			Expect(IfError(100, "test error", errors.New("parent error"))).ToNot(BeNil())
		})

		It("returns nil when no parent is given", func() {
			Expect(IfError(100, "test error")).To(BeNil())
		})
	})

	Describe("edge cases", func() {
		It("renders an empty message for an empty New call", func() {
			Expect(New(0, "").Error()).To(Equal(""))
		})

		It("accumulates a long chain of Add calls", func() {
			err := TestErrorCode1.Error(nil)
			for i := 0; i < 100; i++ {
				err.Add(fmt.Errorf("parent %d", i))
			}

			Expect(err.HasParent()).To(BeTrue())
			Expect(err.GetParent(false)).To(HaveLen(100))
		})

		It("keeps each Add call as a distinct parent", func() {
			err := TestErrorCode1.Error(nil)
			err.Add(errors.New("p1"))
			err.Add(errors.New("p2"))
			err.Add(errors.New("p3"))

			Expect(err.GetParent(false)).To(HaveLen(3))
		})
	})
})
