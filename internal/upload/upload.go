// Package upload builds the multipart/form-data bodies shared by the ACAP
// and license upload endpoints. Cameras validate multipart bodies strictly,
// so boundaries and CRLF line endings follow RFC 2388 exactly.
package upload

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// boundaryBytes is the number of random bytes hex-encoded into the
// multipart boundary, producing 32 hex characters (well above the spec's
// 16-char minimum).
const boundaryBytes = 16

// BuildMultipart wraps body in a single-part multipart/form-data message
// with the given form field name, filename and content type. It returns the
// encoded bytes and the Content-Type header value (including the boundary
// parameter) to send alongside them.
func BuildMultipart(fieldName, filename, contentType string, body io.Reader) ([]byte, string, error) {
	boundary, err := randomBoundary()
	if err != nil {
		return nil, "", fmt.Errorf("generate multipart boundary: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("--" + boundary + "\r\n")
	fmt.Fprintf(&buf, "Content-Disposition: form-data; name=%q; filename=%q\r\n", fieldName, filename)
	buf.WriteString("Content-Type: " + contentType + "\r\n")
	buf.WriteString("\r\n")
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, "", fmt.Errorf("copy multipart body: %w", err)
	}
	buf.WriteString("\r\n")
	buf.WriteString("--" + boundary + "--\r\n")

	return buf.Bytes(), "multipart/form-data; boundary=" + boundary, nil
}

func randomBoundary() (string, error) {
	b := make([]byte, boundaryBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ACAPFieldName and ACAPContentType are the fixed form part parameters for
// the ACAP (.eap application package) upload.
const (
	ACAPFieldName   = "fileData"
	ACAPContentType = "application/octet-stream"
)

// LicenseFieldName, LicenseFilename and LicenseContentType are the fixed
// form part parameters for the signed license upload.
const (
	LicenseFieldName   = "fileData"
	LicenseFilename    = "license.xml"
	LicenseContentType = "text/xml"
)
