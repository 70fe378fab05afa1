package waterfall

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/market-study-cli/internal/waterfall/provider"
)

type mockInternal struct {
	mock.Mock
}

func (m *mockInternal) Search(ctx context.Context, query string) (*provider.SearchResult, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.SearchResult), args.Error(1)
}

type mockWeb struct {
	mock.Mock
}

func (m *mockWeb) Search(ctx context.Context, query string) (string, error) {
	args := m.Called(ctx, query)
	return args.String(0), args.Error(1)
}

type mockEstimator struct {
	mock.Mock
}

func (m *mockEstimator) Estimate(ctx context.Context, contextText, variables string) (string, error) {
	args := m.Called(ctx, contextText, variables)
	return args.String(0), args.Error(1)
}
