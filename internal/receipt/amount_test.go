package receipt

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseAmount", func() {
	for _, tc := range []struct {
		in    string
		cents int64
	}{
		{"6.22", 622},
		{"$1,234.56", 123456},
		{"1.234,56", 123456},
		{"12,50", 1250},
		{"€ 4.20", 420},
		{"-$3.00", -300},
		{"$-3.00", -300},
		{"1O.99", 1099},
		{"S.OO", 500},
		{"42", 4200},
	} {
		It("parses "+tc.in, func() {
			cents, ok := ParseAmount(tc.in)
			Expect(ok).To(BeTrue())
			Expect(cents).To(Equal(tc.cents))
		})
	}

	for _, in := range []string{"", "$", "total", "12.3x"} {
		It("rejects "+in, func() {
			_, ok := ParseAmount(in)
			Expect(ok).To(BeFalse())
		})
	}

	Describe("Record helpers", func() {
		It("parses the total and item prices", func() {
			r := Extract("Joe's Diner\nCoffee 3.50\nTotal $6.22\n")

			total, ok := r.TotalCents()
			Expect(ok).To(BeTrue())
			Expect(total).To(Equal(int64(622)))

			Expect(r.Items).To(HaveLen(1))
			price, ok := r.Items[0].PriceCents()
			Expect(ok).To(BeTrue())
			Expect(price).To(Equal(int64(350)))
		})
	})
})
