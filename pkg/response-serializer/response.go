package serializer

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httputil"
	"strconv"
	"time"
)

const storedAtHeaderName = "Api-Cache-Stored-At"

// TimedResponse is a response together with the value of the clock at the
// time it was captured. The capture time is embedded in the serialized bytes
// and drives freshness decisions.
type TimedResponse struct {
	Response *http.Response
	StoredAt time.Time
}

// StoredResponseToBytes returns the HTTP/1.1 wire representation of the
// response with the capture time stamped into a reserved header. The body of
// the passed response stays readable. The reserved header name is owned by
// this layer in the serialized form; any value the origin sent under it is
// overwritten in the stored bytes but put back on the live response.
func StoredResponseToBytes(tres TimedResponse) ([]byte, error) {
	res := tres.Response
	prior := res.Header.Values(storedAtHeaderName)
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(tres.StoredAt.Unix(), 10))
	bts, err := httputil.DumpResponse(res, true)
	// the caller gets the response headers back unmodified
	if len(prior) > 0 {
		res.Header[http.CanonicalHeaderKey(storedAtHeaderName)] = prior
	} else {
		res.Header.Del(storedAtHeaderName)
	}
	return bts, err
}

// BytesToStoredResponse parses previously stored wire bytes back into a
// response for the given request. The capture time header is stripped from
// the returned response.
func BytesToStoredResponse(b []byte, req *http.Request) (TimedResponse, error) {
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		return TimedResponse{}, err
	}
	tres := TimedResponse{Response: res}
	if ts, err := strconv.ParseInt(res.Header.Get(storedAtHeaderName), 10, 64); err == nil {
		tres.StoredAt = time.Unix(ts, 0)
	}
	res.Header.Del(storedAtHeaderName)
	return tres, nil
}
