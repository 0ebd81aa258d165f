package service

import (
	"encoding/hex"
	"encoding/json"

	"github.com/boddenberg/retail-insights-go/internal/domain"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint identifies a report request over a given snapshot: the same
// parameters over the same rows yield the same value.
func Fingerprint(req domain.AnalysisRequest, rows []domain.Transaction) string {
	h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes

	enc := json.NewEncoder(h)
	_ = enc.Encode(struct {
		K              int                      `json:"k"`
		HorizonWeeks   int                      `json:"horizon_weeks"`
		Filter         domain.TransactionFilter `json:"filter"`
		SkipNarratives bool                     `json:"skip_narratives"`
	}{req.K, req.HorizonWeeks, req.Filter, req.SkipNarratives})

	fcImg := blake2b.Sum256(req.ForecastImage)
	clImg := blake2b.Sum256(req.ClusterImage)
	h.Write(fcImg[:])
	h.Write(clImg[:])

	for _, r := range rows {
		_ = enc.Encode(r)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func fingerprintKey(fingerprint string) string {
	return "request:" + fingerprint
}
