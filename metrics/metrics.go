package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/nci/vex/utils"
)

type URLInfo struct {
	RawURL string            `json:"raw_url"`
	Host   string            `json:"host"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query"`
}

// ExtractInfo describes the extraction behind one request.
type ExtractInfo struct {
	Duration    time.Duration `json:"duration"`
	SrcPath     string        `json:"src_path"`
	Year        int           `json:"year"`
	InputAreaHa float64       `json:"input_area_ha"`
	Rejected    bool          `json:"rejected"`
	NumFeatures int           `json:"num_features"`
	CacheHit    bool          `json:"cache_hit"`
	Remote      bool          `json:"remote"`
	Error       string        `json:"error,omitempty"`
}

// MetricsInfo is one JSON line of the request log.
type MetricsInfo struct {
	ReqTime     string        `json:"req_time"`
	ReqDuration time.Duration `json:"req_duration"`
	Method      string        `json:"method"`
	URL         URLInfo       `json:"url"`
	RemoteAddr  string        `json:"remote_addr"`
	RemoteHost  string        `json:"remote_host"`
	RemotePort  string        `json:"remote_port"`
	HTTPStatus  int           `json:"http_status"`
	Extract     *ExtractInfo  `json:"extract"`
}

// MetricsCollector accumulates the metrics of a request while it is
// served. A nil logger discards them.
type MetricsCollector struct {
	Info   *MetricsInfo
	logger Logger
	start  time.Time
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	return &MetricsCollector{
		Info:   &MetricsInfo{Extract: &ExtractInfo{}},
		logger: logger,
		start:  time.Now(),
	}
}

// Start records the request line and client of r. The status is
// optimistic until a handler reports otherwise.
func (m *MetricsCollector) Start(r *http.Request) {
	m.start = time.Now()
	m.Info.ReqTime = m.start.UTC().Format(utils.ISOFormat)
	m.Info.Method = r.Method

	if reqURL, err := url.QueryUnescape(r.URL.String()); err == nil {
		m.Info.URL.RawURL = reqURL
	} else {
		m.Info.URL.RawURL = r.URL.String()
	}
	m.Info.RemoteAddr = utils.ParseRemoteAddr(r)
	m.Info.HTTPStatus = http.StatusOK
}

// Finish stamps the request duration and hands the metrics to the
// logger.
func (m *MetricsCollector) Finish() {
	m.Info.ReqDuration = time.Since(m.start)
	m.Log()
}

func (m *MetricsCollector) Log() {
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

// ToJSON splits the client address and the URL into their parts and
// encodes the metrics as a newline terminated JSON document.
func (i *MetricsInfo) ToJSON() (string, error) {
	i.RemoteHost, i.RemotePort = splitRemoteAddr(i.RemoteAddr)
	if err := i.URL.parse(); err != nil {
		log.Printf("metrics: error parsing %q: %v", i.URL.RawURL, err)
	}

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(i); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func splitRemoteAddr(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, ""
	}
	return host, port
}

func (u *URLInfo) parse() error {
	if len(u.RawURL) == 0 {
		return nil
	}

	parsed, err := url.Parse(u.RawURL)
	if err != nil {
		return err
	}
	u.Host = parsed.Host
	u.Path = parsed.Path

	values, err := utils.ParseQuery(parsed.RawQuery)
	u.Query = make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) == 1 {
			u.Query[key] = vals[0]
		} else {
			u.Query[key] = fmt.Sprint(vals)
		}
	}
	return err
}
