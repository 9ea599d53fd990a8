package docdb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestStore_ConcurrentUse(t *testing.T) {
	const writers, perWriter = 4, 25
	for _, sf := range storeFactories {
		t.Run(sf.name, func(t *testing.T) {
			sf.opt.ScanBatchSize = 8
			s := setup(t, sf)

			var eg errgroup.Group
			for w := 0; w < writers; w++ {
				eg.Go(func() error {
					for i := 0; i < perWriter; i++ {
						doc := Document{"k": fmt.Sprintf("w%d", w), "i": i}
						if _, err := s.InsertOne("app", "items", doc); err != nil {
							return err
						}
					}
					return nil
				})
			}
			eg.Go(func() error {
				for i := 0; i < 10; i++ {
					c, err := s.Find("app", "items", Document{"k": "w0"})
					if err != nil {
						return err
					}
					docs, err := c.All()
					if err != nil {
						return err
					}
					for _, d := range docs {
						if d["k"] != "w0" {
							return fmt.Errorf("find returned %v", d)
						}
					}
				}
				return nil
			})
			eg.Go(func() error {
				return s.CreateIndex("app", "items", "k")
			})
			require.NoError(t, eg.Wait())

			st, err := s.Stats("app", "items")
			require.NoError(t, err)
			require.Equal(t, writers*perWriter, st.Rows)
			requirePopulated(t, s, "app", "items", "k")
			for w := 0; w < writers; w++ {
				require.Len(t, findAll(t, s, "app", "items", Document{"k": fmt.Sprintf("w%d", w)}), perWriter)
			}
		})
	}
}
