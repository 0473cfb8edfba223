package sasqlite_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/gsa/sa/sastore"
	"github.com/gordian-engine/gsa/sa/sastore/sasqlite"
	"github.com/gordian-engine/gsa/sa/sastore/sastoretest"
)

func TestCandidateStoreCompliance(t *testing.T) {
	t.Parallel()

	sastoretest.TestCandidateStoreCompliance(t, func(cleanup func(func())) (sastore.CandidateStore, error) {
		s, err := sasqlite.NewCandidateStore(context.Background(), ":memory:")
		if err != nil {
			return nil, err
		}
		cleanup(func() { _ = s.Close() })
		return s, nil
	})
}
