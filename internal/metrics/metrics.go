package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QRCodesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrcode_created_total",
		Help: "Number of QR codes created",
	}, []string{"kind"})

	Redirects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrcode_redirects_total",
		Help: "Number of short-code redirect lookups",
	}, []string{"endpoint", "result"})

	AssistantRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrcode_assistant_requests_total",
		Help: "Number of chat assistant requests by outcome",
	}, []string{"outcome"})
)

// Kind возвращает метку типа QR кода
func Kind(dynamic bool) string {
	if dynamic {
		return "dynamic"
	}
	return "static"
}
