package stats

import "github.com/stretchr/testify/mock"

// MockStatsUpdater records metric updates for tests.
type MockStatsUpdater struct {
	mock.Mock
}

var _ StatsProvider = (*MockStatsUpdater)(nil)

func (m *MockStatsUpdater) Incr(name string)            { m.Called(name) }
func (m *MockStatsUpdater) Decr(name string)            { m.Called(name) }
func (m *MockStatsUpdater) RegisterMetric(name string)  { m.Called(name) }
func (m *MockStatsUpdater) RegisterCounter(name string) { m.Called(name) }
func (m *MockStatsUpdater) Run()                        { m.Called() }

// ExpectRegistration sets up the registrations NewChatServer performs.
func (m *MockStatsUpdater) ExpectRegistration() {
	for _, name := range []string{"ConnectedClients", "OnlineUsers", "ActiveRooms"} {
		m.On("RegisterMetric", name).Return().Once()
	}
	m.On("RegisterCounter", "MessagesRouted").Return().Once()
}
