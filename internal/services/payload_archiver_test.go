package services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

type objectStoreRequest struct {
	method      string
	path        string
	contentType string
	body        string
}

type PayloadArchiverTestSuite struct {
	suite.Suite
	server       *httptest.Server
	mu           sync.Mutex
	requests     []objectStoreRequest
	bucketExists bool
	archiver     PayloadArchiver
}

func (suite *PayloadArchiverTestSuite) SetupTest() {
	suite.requests = nil
	suite.bucketExists = true
	suite.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		suite.mu.Lock()
		suite.requests = append(suite.requests, objectStoreRequest{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		})
		exists := suite.bucketExists
		suite.mu.Unlock()

		switch {
		case r.Method == http.MethodHead && !exists:
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut:
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))

	archiver, err := NewMinioArchiver(strings.TrimPrefix(suite.server.URL, "http://"), "access", "secret", "tally-payloads", false)
	suite.Require().NoError(err)
	suite.archiver = archiver
}

func (suite *PayloadArchiverTestSuite) TearDownTest() {
	suite.server.Close()
}

func TestPayloadArchiverTestSuite(t *testing.T) {
	suite.Run(t, new(PayloadArchiverTestSuite))
}

func (suite *PayloadArchiverTestSuite) lastRequest() objectStoreRequest {
	suite.mu.Lock()
	defer suite.mu.Unlock()
	suite.Require().NotEmpty(suite.requests)
	return suite.requests[len(suite.requests)-1]
}

func (suite *PayloadArchiverTestSuite) TestArchive_PutsXMLObject() {
	err := suite.archiver.Archive(context.Background(), "tenant/Acme/2024-01-01/ledgers-020000.000000.xml", []byte("<ENVELOPE/>"))
	suite.Require().NoError(err)

	req := suite.lastRequest()
	suite.Equal(http.MethodPut, req.method)
	suite.Equal("/tally-payloads/tenant/Acme/2024-01-01/ledgers-020000.000000.xml", req.path)
	suite.Equal("application/xml", req.contentType)
	suite.Contains(req.body, "<ENVELOPE/>")
}

func (suite *PayloadArchiverTestSuite) TestEnsureBucketExists_CreatesMissingBucket() {
	suite.bucketExists = false

	suite.Require().NoError(suite.archiver.EnsureBucketExists(context.Background()))

	req := suite.lastRequest()
	suite.Equal(http.MethodPut, req.method)
	suite.Equal("/tally-payloads", strings.TrimSuffix(req.path, "/"))
}

func (suite *PayloadArchiverTestSuite) TestEnsureBucketExists_ExistingBucket() {
	suite.Require().NoError(suite.archiver.EnsureBucketExists(context.Background()))

	suite.Len(suite.requests, 1)
	suite.Equal(http.MethodHead, suite.requests[0].method)
}

func (suite *PayloadArchiverTestSuite) TestPing() {
	suite.NoError(suite.archiver.Ping(context.Background()))
}
