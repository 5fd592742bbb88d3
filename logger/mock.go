package logger

import (
	"github.com/stretchr/testify/mock"
)

// MockLogger records log calls. Set expectations with On as with any
// testify mock, or call AllowAll to accept every message.
type MockLogger struct {
	mock.Mock
}

var _ Logger = (*MockLogger)(nil)

func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// AllowAll accepts any message at any level and returns m.
func (m *MockLogger) AllowAll() *MockLogger {
	for _, method := range []string{"Debug", "Info", "Warn", "Error", "Fatal"} {
		m.On(method, mock.Anything, mock.Anything).Return()
	}

	return m
}

// Messages returns the messages logged through method, e.g. "Info", in call order.
func (m *MockLogger) Messages(method string) []string {
	var msgs []string
	for _, c := range m.Calls {
		if c.Method == method {
			msgs = append(msgs, c.Arguments.String(0))
		}
	}

	return msgs
}

// Fields returns the key/value pairs of the first call of method with msg.
func (m *MockLogger) Fields(method, msg string) (map[string]any, bool) {
	for _, c := range m.Calls {
		if c.Method != method || c.Arguments.String(0) != msg {
			continue
		}

		kv, _ := c.Arguments.Get(1).([]any)
		fields := make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			if k, ok := kv[i].(string); ok {
				fields[k] = kv[i+1]
			}
		}

		return fields, true
	}

	return nil, false
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }
func (m *MockLogger) Info(msg string, keysAndValues ...any)  { m.Called(msg, keysAndValues) }
func (m *MockLogger) Warn(msg string, keysAndValues ...any)  { m.Called(msg, keysAndValues) }
func (m *MockLogger) Error(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }
func (m *MockLogger) Fatal(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }

func (m *MockLogger) SetLevel(level Level) {
	m.Called(level)
}

func (m *MockLogger) Level() Level {
	args := m.Called()
	return args.Get(0).(Level)
}

// With returns the mock itself so child loggers record on the same mock.
func (m *MockLogger) With(_ ...any) Logger {
	return m
}
