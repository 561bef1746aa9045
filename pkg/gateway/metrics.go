package gateway

import "github.com/prometheus/client_golang/prometheus"

// metrics はゲートウェイの動作を観測するためのPrometheusメトリクス。
type metrics struct {
	refreshes   prometheus.Counter
	rejections  *prometheus.CounterVec
	logouts     prometheus.Counter
	maintenance prometheus.Gauge
}

// newMetrics はメトリクスを生成する。reg が nil でなければ登録する。
// 同じ Registerer に2つの Client を登録すると panic する。
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hrgate",
			Subsystem: "gateway",
			Name:      "token_refresh_total",
			Help:      "トークン更新エンドポイントの呼び出し回数",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hrgate",
			Subsystem: "gateway",
			Name:      "rejections_total",
			Help:      "分類ごとの拒否されたリクエスト数",
		}, []string{"kind"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hrgate",
			Subsystem: "gateway",
			Name:      "forced_logouts_total",
			Help:      "強制ログアウトの実行回数",
		}),
		maintenance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hrgate",
			Subsystem: "gateway",
			Name:      "backend_down",
			Help:      "バックエンドが到達不可または縮退中なら1",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.refreshes, m.rejections, m.logouts, m.maintenance)
	}
	return m
}

func (m *metrics) rejected(kind Kind) {
	m.rejections.WithLabelValues(string(kind)).Inc()
}
