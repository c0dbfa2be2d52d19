package redis

import (
	"context"
	"strconv"
	"strings"
)

// Stats is the redis_stats payload served to dashboards and /api/stats/.
type Stats struct {
	MemoryUsed         string `json:"memory_used"`
	ConnectedClients   int64  `json:"connected_clients"`
	OperationsPerSec   int64  `json:"operations_per_sec"`
	KeyspaceHits       int64  `json:"keyspace_hits"`
	KeyspaceMisses     int64  `json:"keyspace_misses"`
	UptimeSeconds      int64  `json:"uptime_seconds"`
	PricesCount        int    `json:"prices_count"`
	OpportunitiesCount int64  `json:"opportunities_count"`
}

// Stats samples INFO plus local key counts. It satisfies the hub's
// stats source.
func (m *Mirror) Stats(ctx context.Context) (any, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := m.client.Info(opCtx).Result()
	if err != nil {
		return nil, err
	}
	fields := parseInfo(raw)

	st := Stats{
		MemoryUsed:       fields["used_memory_human"],
		ConnectedClients: parseInt(fields["connected_clients"]),
		OperationsPerSec: parseInt(fields["instantaneous_ops_per_sec"]),
		KeyspaceHits:     parseInt(fields["keyspace_hits"]),
		KeyspaceMisses:   parseInt(fields["keyspace_misses"]),
		UptimeSeconds:    parseInt(fields["uptime_in_seconds"]),
	}

	if keys, err := m.client.Keys(opCtx, priceKeyPrefix+"*").Result(); err == nil {
		st.PricesCount = len(keys)
	}
	if n, err := m.client.ZCard(opCtx, latestZSet).Result(); err == nil {
		st.OpportunitiesCount = n
	}
	return st, nil
}

// parseInfo splits an INFO reply into key/value pairs, skipping
// section headers.
func parseInfo(raw string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			out[k] = v
		}
	}
	return out
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
