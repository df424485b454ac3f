package dmx

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// OLASink pushes frames to an OLA daemon through its web service,
// posting universe data to /set_dmx as comma-separated values.
type OLASink struct {
	baseURL string
	http    *http.Client
}

// NewOLASink creates a sink against the OLA web service, typically
// http://localhost:9090.
func NewOLASink(baseURL string) *OLASink {
	return &OLASink{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Send posts one universe frame.
func (s *OLASink) Send(universe uint16, frame []byte) error {
	var data strings.Builder
	for i, v := range frame {
		if i > 0 {
			data.WriteByte(',')
		}
		data.WriteString(strconv.Itoa(int(v)))
	}
	form := url.Values{
		"u": {strconv.Itoa(int(universe))},
		"d": {data.String()},
	}

	resp, err := s.http.PostForm(s.baseURL+"/set_dmx", form)
	if err != nil {
		return fmt.Errorf("post frame to OLA: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("OLA returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *OLASink) Close() error { return nil }
