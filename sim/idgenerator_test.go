package sim

import (
	"strconv"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("IDGenerator", func() {
	It("should hand out increasing numbers", func() {
		g := GetIDGenerator()

		a, err := strconv.ParseUint(g.Generate(), 10, 64)
		Expect(err).NotTo(HaveOccurred())
		b, err := strconv.ParseUint(g.Generate(), 10, 64)
		Expect(err).NotTo(HaveOccurred())

		Expect(b).To(BeNumerically(">", a))
	})

	It("should not repeat IDs across goroutines", func() {
		var (
			wg   sync.WaitGroup
			lock sync.Mutex
			seen = map[string]bool{}
		)

		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					id := GetIDGenerator().Generate()
					lock.Lock()
					seen[id] = true
					lock.Unlock()
				}
			}()
		}
		wg.Wait()

		Expect(seen).To(HaveLen(800))
	})
})
