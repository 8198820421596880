package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := NewClient(Config{
		Token:         "test-token",
		PhoneNumberID: "12345",
		APIBase:       ts.URL,
	})
	return c, ts
}

func TestSendText(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	c, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody) //nolint:errcheck
		fmt.Fprint(w, `{"messages":[{"id":"wamid.out"}]}`)
	}))
	defer ts.Close()

	if err := c.SendText(context.Background(), "5491150128981", "hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if gotPath != "/12345/messages" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotBody["to"] != "5491150128981" || gotBody["type"] != "text" {
		t.Fatalf("body = %+v", gotBody)
	}
	text, ok := gotBody["text"].(map[string]any)
	if !ok || text["body"] != "hello" {
		t.Fatalf("text body = %+v", gotBody["text"])
	}
}

func TestSendTextSurfacesGraphError(t *testing.T) {
	c, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Invalid recipient","type":"OAuthException","code":131026}}`)
	}))
	defer ts.Close()

	err := c.SendText(context.Background(), "0", "hello")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "Invalid recipient") || !strings.Contains(err.Error(), "131026") {
		t.Fatalf("error = %v, want decoded Graph envelope", err)
	}
}

func TestMarkRead(t *testing.T) {
	var gotBody map[string]any
	c, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody) //nolint:errcheck
		fmt.Fprint(w, `{"success":true}`)
	}))
	defer ts.Close()

	if err := c.MarkRead(context.Background(), "wamid.abc"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if gotBody["status"] != "read" || gotBody["message_id"] != "wamid.abc" {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestUploadMedia(t *testing.T) {
	var gotProduct, gotType string
	var gotFile []byte
	c, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/12345/media" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing form: %v", err)
		}
		gotProduct = r.FormValue("messaging_product")
		gotType = r.FormValue("type")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part: %v", err)
		} else {
			gotFile, _ = io.ReadAll(f)
			f.Close()
		}
		fmt.Fprint(w, `{"id":"media-42"}`)
	}))
	defer ts.Close()

	id, err := c.UploadMedia(context.Background(), []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("UploadMedia: %v", err)
	}
	if id != "media-42" {
		t.Fatalf("media id = %q", id)
	}
	if gotProduct != "whatsapp" || gotType != "image/png" {
		t.Fatalf("form fields = %q %q", gotProduct, gotType)
	}
	if string(gotFile) != "png-bytes" {
		t.Fatalf("file bytes = %q", gotFile)
	}
}

func TestDownloadTwoStep(t *testing.T) {
	mux := http.NewServeMux()
	var ts *httptest.Server
	mux.HandleFunc("/media-7", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("metadata auth = %q", r.Header.Get("Authorization"))
		}
		fmt.Fprintf(w, `{"url":%q,"mime_type":"image/jpeg"}`, ts.URL+"/lookaside/blob")
	})
	mux.HandleFunc("/lookaside/blob", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("download auth = %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte("jpeg-bytes")) //nolint:errcheck
	})
	c, server := newTestClient(mux)
	ts = server
	defer ts.Close()

	data, mime, err := c.Download(context.Background(), "media-7")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("data = %q", data)
	}
	if mime != "image/jpeg" {
		t.Fatalf("mime = %q", mime)
	}
}

func TestDownloadExpiredMedia(t *testing.T) {
	c, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	_, _, err := c.Download(context.Background(), "gone")
	if !errors.Is(err, ErrMediaExpired) {
		t.Fatalf("error = %v, want ErrMediaExpired", err)
	}
}

func TestDownloadExpiredAtFetchStep(t *testing.T) {
	mux := http.NewServeMux()
	var ts *httptest.Server
	mux.HandleFunc("/media-8", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"url":%q,"mime_type":"image/png"}`, ts.URL+"/lookaside/stale")
	})
	mux.HandleFunc("/lookaside/stale", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	c, server := newTestClient(mux)
	ts = server
	defer ts.Close()

	_, _, err := c.Download(context.Background(), "media-8")
	if !errors.Is(err, ErrMediaExpired) {
		t.Fatalf("error = %v, want ErrMediaExpired", err)
	}
}

func TestDownloadMissingURL(t *testing.T) {
	c, ts := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"mime_type":"image/png"}`)
	}))
	defer ts.Close()

	_, _, err := c.Download(context.Background(), "media-9")
	if !errors.Is(err, ErrMediaMissingURL) {
		t.Fatalf("error = %v, want ErrMediaMissingURL", err)
	}
}
