package handler

import (
	"encoding/json"
	"net/http"

	"tle_zone_judge/internal/common"
)

const maxBodyBytes = 1 << 20

// decodeBody reads a JSON body of at most maxBodyBytes into dst and answers 400 when it cannot.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		common.RespondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return false
	}
	return true
}
