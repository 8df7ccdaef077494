package serializer

import (
	"bufio"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestSerializationRoundTrip(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 16\r\n" +
		"\r\n" +
		`{"items":[1,2]}` + "\n"

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		t.Fatal(err)
	}
	storedAt := time.Unix(1700000000, 0)

	bts, err := StoredResponseToBytes(TimedResponse{Response: res, StoredAt: storedAt})
	if err != nil {
		t.Fatalf("Error serializing: %v", err)
	}

	tres, err := BytesToStoredResponse(bts, nil)
	if err != nil {
		t.Fatalf("Error deserializing: %v", err)
	}
	if !tres.StoredAt.Equal(storedAt) {
		t.Fatalf("StoredAt is %v, expected %v", tres.StoredAt, storedAt)
	}
	if tres.Response.Header.Get("Api-Cache-Stored-At") != "" {
		t.Fatalf("Stamp header not stripped: %+v", tres.Response.Header)
	}
	if ct := tres.Response.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type is %s", ct)
	}
	body, err := io.ReadAll(tres.Response.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"items":[1,2]}`+"\n" {
		t.Fatalf("Body is %s", body)
	}
}

func TestSerializationBodyStaysReadable(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\n" +
		"Content-Length: 16\r\n" +
		"\r\n" +
		"This is the body"

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := StoredResponseToBytes(TimedResponse{Response: res, StoredAt: time.Now()}); err != nil {
		t.Fatalf("Error serializing: %v", err)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "This is the body" {
		t.Fatalf("Body is %s", body)
	}
}

func TestSerializationRestoresOriginHeaderOfReservedName(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\n" +
		"Api-Cache-Stored-At: origin-value\r\n" +
		"Content-Length: 0\r\n\r\n"
	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := StoredResponseToBytes(TimedResponse{Response: res, StoredAt: time.Unix(1700000000, 0)}); err != nil {
		t.Fatal(err)
	}
	if got := res.Header.Get("Api-Cache-Stored-At"); got != "origin-value" {
		t.Fatalf("Origin header is %q after serialization", got)
	}
}

func TestSerializationLeavesOriginalHeadersAlone(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"
	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := StoredResponseToBytes(TimedResponse{Response: res, StoredAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if res.Header.Get("Api-Cache-Stored-At") != "" {
		t.Fatalf("Stamp header left on original response: %+v", res.Header)
	}
}
