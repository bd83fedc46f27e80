package ipfs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-onchain/model"
)

func TestAddSendsBasicAuth(t *testing.T) {
	var gotUser, gotPass, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v0/add", r.URL.Path)
		gotUser, gotPass, _ = r.BasicAuth()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		fmt.Fprint(w, `{"Name":"","Hash":"QmAsset","Size":"5"}`)
	}))
	defer srv.Close()

	g := NewGateway(Config{ApiUrl: srv.URL, ProjectId: "pid", ProjectSecret: "secret", GatewayUrl: "https://gw.example/"})
	cid, err := g.Add(context.Background(), "asset", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "QmAsset", cid)
	assert.Equal(t, "pid", gotUser)
	assert.Equal(t, "secret", gotPass)
	assert.Contains(t, gotBody, "hello")
	assert.Equal(t, "https://gw.example/ipfs/QmAsset", g.URL(cid))
}

func TestAddAbortsRequestOnCancel(t *testing.T) {
	aborted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.ReadAll(r.Body)
		<-r.Context().Done()
		close(aborted)
	}))
	defer srv.Close()

	g := NewGateway(Config{ApiUrl: srv.URL, GatewayUrl: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := g.Add(ctx, "asset", []byte("x"))
	require.Error(t, err)

	select {
	case <-aborted:
	case <-time.After(2 * time.Second):
		t.Fatal("upload request still running after cancel")
	}
}

func TestAddFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"Message":"invalid project id","Code":0,"Type":"error"}`)
	}))
	defer srv.Close()

	g := NewGateway(Config{ApiUrl: srv.URL, GatewayUrl: "https://gw.example"})
	_, err := g.Add(context.Background(), "asset", []byte("x"))
	assert.Error(t, err)
}

func TestFetchMetadata(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ipfs/QmOk", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"Sunset","description":"orange","image":"https://gw/ipfs/QmImg","price":"1.5","extra":true}`)
	})
	mux.HandleFunc("/ipfs/QmNumeric", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"N","price":2}`)
	})
	mux.HandleFunc("/ipfs/QmBad", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `not json`)
	})
	mux.HandleFunc("/ipfs/QmBig", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"`+strings.Repeat("a", maxMetadataBytes)+`"}`)
	})
	mux.HandleFunc("/ipfs/QmSlow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := NewGateway(Config{ApiUrl: srv.URL, GatewayUrl: srv.URL, MetadataTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	md, err := g.FetchMetadata(ctx, srv.URL+"/ipfs/QmOk")
	require.NoError(t, err)
	assert.Equal(t, &model.Metadata{Name: "Sunset", Description: "orange", Image: "https://gw/ipfs/QmImg", Price: "1.5"}, md)

	md, err = g.FetchMetadata(ctx, "ipfs://QmNumeric")
	require.NoError(t, err)
	assert.Equal(t, "2", md.Price)

	tests := []struct {
		name   string
		uri    string
		status int
	}{
		{"not found", srv.URL + "/ipfs/QmMissing", http.StatusNotFound},
		{"malformed", srv.URL + "/ipfs/QmBad", 0},
		{"too large", srv.URL + "/ipfs/QmBig", 0},
		{"timeout", srv.URL + "/ipfs/QmSlow", 0},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.FetchMetadata(ctx, tt.uri)
			var mfe *model.MetadataFetchError
			require.ErrorAs(t, err, &mfe)
			assert.Equal(t, tt.status, mfe.StatusCode)
		})
	}
}
