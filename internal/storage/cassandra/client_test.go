package cassandra

import (
	"errors"
	"testing"

	"github.com/gocql/gocql"
)

func TestParseConsistency(t *testing.T) {
	tests := []struct {
		in   string
		want gocql.Consistency
	}{
		{"ONE", gocql.One},
		{"local_quorum", gocql.LocalQuorum},
		{"LOCAL_ONE", gocql.LocalOne},
		{"ALL", gocql.All},
		{"", gocql.Quorum},
		{"bogus", gocql.Quorum},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := parseConsistency(tt.in); got != tt.want {
				t.Errorf("parseConsistency(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_GetRetryType(t *testing.T) {
	p := RetryPolicy(3)

	tests := []struct {
		name string
		err  error
		want gocql.RetryType
	}{
		{"no response", gocql.ErrTimeoutNoResponse, gocql.Retry},
		{"connection", errors.New("connection refused"), gocql.Retry},
		{"unavailable", errors.New("Cannot achieve consistency level: Unavailable"), gocql.Retry},
		{"syntax", errors.New("line 1:0 no viable alternative"), gocql.Rethrow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.GetRetryType(tt.err); got != tt.want {
				t.Errorf("GetRetryType(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
