package applog

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	lokiURL    string
	lokiOnce   sync.Once
	lokiClient = &http.Client{Timeout: 200 * time.Millisecond}
)

func initLoki() {
	lokiURL = ""

	cfgFile := ""
	for _, c := range []string{"configs/config.yaml", "configs/config.yml"} {
		if _, err := os.Stat(c); err == nil {
			cfgFile = c
			break
		}
	}
	if cfgFile == "" {
		return
	}

	var cfg struct {
		Logging *struct {
			LokiURL string `yaml:"loki_url"`
		} `yaml:"logging"`
	}
	b, err := os.ReadFile(cfgFile)
	if err != nil {
		return
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return
	}
	if cfg.Logging != nil {
		lokiURL = strings.TrimSpace(cfg.Logging.LokiURL)
	}

	// Normalize to the full push path if only a base URL was provided.
	if lokiURL != "" && !strings.Contains(lokiURL, "/loki/api/v1/push") {
		lokiURL = strings.TrimRight(lokiURL, "/") + "/loki/api/v1/push"
	}
}

// PushLoki ships a single log line with labels to Loki. It is a no-op when
// no loki_url is configured and fire-and-forget otherwise; log shipping must
// never slow down or fail a proxied request.
func PushLoki(labels map[string]string, line string) {
	lokiOnce.Do(initLoki)
	if lokiURL == "" {
		return
	}

	lbls := map[string]string{"app": "devhost"}
	for k, v := range labels {
		if strings.TrimSpace(k) == "" {
			continue
		}
		lbls[k] = v
	}

	ts := strconv.FormatInt(time.Now().UnixNano(), 10)
	payload := struct {
		Streams []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"streams"`
	}{
		Streams: []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		}{
			{Stream: lbls, Values: [][2]string{{ts, line}}},
		},
	}

	b, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, lokiURL, bytes.NewReader(b))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := lokiClient.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}
