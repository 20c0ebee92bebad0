package transfer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	imagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slicebox_images_sent_total",
		Help: "Images delivered to remote boxes",
	}, []string{"box"})

	imagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slicebox_images_received_total",
		Help: "Images received from remote boxes",
	}, []string{"box"})

	transferFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slicebox_transfer_failures_total",
		Help: "Transfer attempts that failed, by kind",
	}, []string{"box", "kind"})

	transactionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slicebox_transactions_finished_total",
		Help: "Outgoing transactions fully delivered",
	}, []string{"box"})
)

// RecordImageReceived counts an image accepted on the incoming endpoint
func RecordImageReceived(boxName string) {
	imagesReceived.WithLabelValues(boxName).Inc()
}

// RecordImageRejected counts an incoming image refused by validation
func RecordImageRejected(boxName string) {
	transferFailures.WithLabelValues(boxName, "validation").Inc()
}
