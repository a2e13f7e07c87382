package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Name", func() {
	It("should parse name", func() {
		name, err := ParseName("Node[0].Csma[1]")

		Expect(err).NotTo(HaveOccurred())
		Expect(name.Tokens[0].ElemName).To(Equal("Node"))
		Expect(name.Tokens[0].Index).To(Equal([]int{0}))
		Expect(name.Tokens[1].ElemName).To(Equal("Csma"))
		Expect(name.Tokens[1].Index).To(Equal([]int{1}))
		Expect(name.String()).To(Equal("Node[0].Csma[1]"))
	})

	It("should parse multi-dimensional index", func() {
		name, err := ParseName("Grid[0][1].Node")

		Expect(err).NotTo(HaveOccurred())
		Expect(name.Tokens[0].Index).To(Equal([]int{0, 1}))
		Expect(name.Tokens[1].Index).To(BeEmpty())
	})

	It("should reject a non-integer index", func() {
		_, err := ParseName("Node[a]")

		Expect(err).To(HaveOccurred())
	})

	DescribeTable("invalid names",
		func(name string) {
			Expect(ValidateName(name)).To(HaveOccurred())
			Expect(func() { NameMustBeValid(name) }).To(Panic())
		},
		Entry("empty", ""),
		Entry("underscore", "Node_0"),
		Entry("dash", "Node-0"),
		Entry("lower case", "node0"),
		Entry("open bracket", "Node[0"),
		Entry("close bracket", "Node0]"),
		Entry("empty element", "Node..Eth"),
	)

	It("should build name", func() {
		Expect(BuildName("", "Node")).To(Equal("Node"))
		Expect(BuildName("Node[0]", "TxQueue")).To(Equal("Node[0].TxQueue"))
	})

	It("should build name with index", func() {
		Expect(BuildNameWithIndex("", "Node", 0)).To(Equal("Node[0]"))
		Expect(BuildNameWithIndex("Node[0]", "P2p", 1)).
			To(Equal("Node[0].P2p[1]"))
	})
})
