package client

import (
	"encoding/json"
	"testing"

	"hongson-portal/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractHostPort(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"localhost", "localhost:9000"},
		{"http://clickhouse", "clickhouse:9000"},
		{"https://clickhouse.example.com", "clickhouse.example.com:9440"},
		{"clickhouse://db:9100/", "db:9100"},
		{"http://10.0.0.5:9000", "10.0.0.5:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, extractHostPort(tt.url))
		})
	}
	assert.Equal(t, "clickhouse.example.com", extractHostname("https://clickhouse.example.com"))
}

func TestBuildSearchQuery(t *testing.T) {
	raw, err := json.Marshal(buildSearchQuery("class", models.ZoneStudent, 20))
	require.NoError(t, err)

	var q struct {
		Size  int `json:"size"`
		Query struct {
			Bool struct {
				Must struct {
					MultiMatch struct {
						Query  string   `json:"query"`
						Fields []string `json:"fields"`
					} `json:"multi_match"`
				} `json:"must"`
				Filter []map[string]json.RawMessage `json:"filter"`
			} `json:"bool"`
		} `json:"query"`
	}
	require.NoError(t, json.Unmarshal(raw, &q))

	assert.Equal(t, 20, q.Size)
	assert.Equal(t, "class", q.Query.Bool.Must.MultiMatch.Query)
	assert.Equal(t, []string{"name^3", "url"}, q.Query.Bool.Must.MultiMatch.Fields)
	require.Len(t, q.Query.Bool.Filter, 2)
	assert.JSONEq(t, `{"zone":["student","both"]}`, string(q.Query.Bool.Filter[1]["terms"]))
}

func TestBuildSearchQuery_NoZone(t *testing.T) {
	q := buildSearchQuery("mail", "", 10)

	filter := q["query"].(map[string]interface{})["bool"].(map[string]interface{})["filter"].([]interface{})
	assert.Len(t, filter, 1)
}
