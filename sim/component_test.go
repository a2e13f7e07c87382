package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ComponentBase", func() {
	It("should keep its name", func() {
		c := NewComponentBase("Node[0].Echo")

		Expect(c.Name()).To(Equal("Node[0].Echo"))
	})

	It("should refuse an invalid name", func() {
		Expect(func() { NewComponentBase("echo_server") }).To(Panic())
	})

	It("should invoke the accepted hooks", func() {
		c := NewComponentBase("Sink")
		var seen []*HookPos
		c.AcceptHook(HookFunc(func(ctx HookCtx) {
			seen = append(seen, ctx.Pos)
		}))

		c.InvokeHook(HookCtx{Domain: c, Pos: HookPosBeforeEvent})

		Expect(c.NumHooks()).To(Equal(1))
		Expect(seen).To(Equal([]*HookPos{HookPosBeforeEvent}))
	})
})
