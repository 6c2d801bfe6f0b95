package poller

import (
	"encoding/json"
	"time"

	"github.com/geekxflood/snmpgateway/normalize"
)

// Record is the outcome of one poll tick. Exactly one of Results or Error is
// set; Message accompanies an empty Results for a bulk query with no data.
type Record struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Type      string             `json:"type"`
	Results   []normalize.Result `json:"results,omitempty"`
	Error     string             `json:"error,omitempty"`
	Message   string             `json:"message,omitempty"`
}

// Failed reports whether the tick hit a transport error.
func (r Record) Failed() bool {
	return r.Error != ""
}

// MarshalJSON keeps an empty results array on success records.
func (r Record) MarshalJSON() ([]byte, error) {
	type plain Record
	if r.Error != "" {
		return json.Marshal(plain(r))
	}

	results := r.Results
	if results == nil {
		results = []normalize.Result{}
	}
	return json.Marshal(struct {
		plain
		Results []normalize.Result `json:"results"`
	}{plain(r), results})
}
