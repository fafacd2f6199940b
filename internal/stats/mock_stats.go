package stats

import "github.com/stretchr/testify/mock"

var _ StatsProvider = (*MockStatsUpdater)(nil)

type MockStatsUpdater struct {
	mock.Mock
}

// ExpectRegistered sets up one RegisterMetric call per name.
func (m *MockStatsUpdater) ExpectRegistered(names ...string) *MockStatsUpdater {
	for _, name := range names {
		m.On("RegisterMetric", name).Once()
	}
	return m
}

func (m *MockStatsUpdater) Incr(name string)           { m.Called(name) }
func (m *MockStatsUpdater) Decr(name string)           { m.Called(name) }
func (m *MockStatsUpdater) RegisterMetric(name string) { m.Called(name) }
