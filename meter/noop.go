package meter

import cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ cloudgpt.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnRoute(cloudgpt.RouteEvent)   {}
func (m *NoopMeter) OnResult(cloudgpt.ResultEvent) {}
