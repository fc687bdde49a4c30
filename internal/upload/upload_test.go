package upload

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuildMultipart_ACAP reproduces spec.md §4.4's ACAP upload shape: a
// single fileData part, octet-stream content type, CRLF line endings and a
// trailing boundary terminator.
func TestBuildMultipart_ACAP(t *testing.T) {
	payload := []byte("fake-eap-bytes")
	body, contentType, err := BuildMultipart(ACAPFieldName, "BatonAnalytic.eap", ACAPContentType, bytes.NewReader(payload))
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(contentType, "multipart/form-data; boundary="))
	boundary := strings.TrimPrefix(contentType, "multipart/form-data; boundary=")
	assert.GreaterOrEqual(t, len(boundary), 16)

	s := string(body)
	assert.True(t, strings.HasPrefix(s, "--"+boundary+"\r\n"))
	assert.Contains(t, s, `Content-Disposition: form-data; name="fileData"; filename="BatonAnalytic.eap"`+"\r\n")
	assert.Contains(t, s, "Content-Type: application/octet-stream\r\n")
	assert.Contains(t, s, string(payload))
	assert.True(t, strings.HasSuffix(s, "--"+boundary+"--\r\n"))
}

// TestBuildMultipart_License reproduces spec.md §4.4's license upload shape.
func TestBuildMultipart_License(t *testing.T) {
	xml := `<?xml version="1.0"?><License/>`
	body, contentType, err := BuildMultipart(LicenseFieldName, LicenseFilename, LicenseContentType, strings.NewReader(xml))
	require.NoError(t, err)

	s := string(body)
	assert.Contains(t, contentType, "multipart/form-data; boundary=")
	assert.Contains(t, s, `filename="license.xml"`)
	assert.Contains(t, s, "Content-Type: text/xml\r\n")
	assert.Contains(t, s, xml)
	assert.True(t, strings.HasSuffix(s, "--\r\n"))
}

func TestBuildMultipart_BoundaryIsRandomPerCall(t *testing.T) {
	_, ct1, err := BuildMultipart(ACAPFieldName, "a.eap", ACAPContentType, strings.NewReader("x"))
	require.NoError(t, err)
	_, ct2, err := BuildMultipart(ACAPFieldName, "a.eap", ACAPContentType, strings.NewReader("x"))
	require.NoError(t, err)
	assert.NotEqual(t, ct1, ct2)
}
