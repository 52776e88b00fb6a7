package s3

import (
	"bytes"
	"encoding/xml"

	"github.com/objectstream/objectstream/pkg/errors"
)

// initiateMultipartUploadResult is the CreateMultipartUpload response body.
type initiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

// completedPart is one entry of the CompleteMultipartUpload request body.
type completedPart struct {
	PartNumber     int    `xml:"PartNumber"`
	ETag           string `xml:"ETag"`
	ChecksumCRC32  string `xml:"ChecksumCRC32,omitempty"`
	ChecksumCRC32C string `xml:"ChecksumCRC32C,omitempty"`
	ChecksumSHA1   string `xml:"ChecksumSHA1,omitempty"`
	ChecksumSHA256 string `xml:"ChecksumSHA256,omitempty"`
}

// completeMultipartUpload is the CompleteMultipartUpload request body.
type completeMultipartUpload struct {
	XMLName xml.Name        `xml:"CompleteMultipartUpload"`
	Parts   []completedPart `xml:"Part"`
}

// completeMultipartUploadResult is the success response body.
type completeMultipartUploadResult struct {
	XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

// errorResponse is S3's XML error document.
type errorResponse struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	RequestID string   `xml:"RequestId"`
}

// setChecksum records a part checksum under the matching element.
func (p *completedPart) setChecksum(algorithm ChecksumAlgorithm, sum string) {
	switch algorithm {
	case ChecksumCRC32:
		p.ChecksumCRC32 = sum
	case ChecksumCRC32C:
		p.ChecksumCRC32C = sum
	case ChecksumSHA1:
		p.ChecksumSHA1 = sum
	case ChecksumSHA256:
		p.ChecksumSHA256 = sum
	}
}

func marshalCompleteMultipartUpload(parts []completedPart) ([]byte, error) {
	body, err := xml.Marshal(completeMultipartUpload{Parts: parts})
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeInternalError,
			"marshaling CompleteMultipartUpload: %v", err).WithCause(err)
	}
	return append([]byte(xml.Header), body...), nil
}

func unmarshalInitiateResult(body []byte) (*initiateMultipartUploadResult, error) {
	var result initiateMultipartUploadResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, errors.Newf(errors.ErrCodeInternalError,
			"parsing InitiateMultipartUploadResult: %v", err).WithCause(err)
	}
	if result.UploadID == "" {
		return nil, errors.New(errors.ErrCodeInternalError,
			"CreateMultipartUpload response carried no UploadId")
	}
	return &result, nil
}

// parseCompleteResult parses the CompleteMultipartUpload response, which
// can be an error document even under HTTP 200.
func parseCompleteResult(body []byte) (*completeMultipartUploadResult, error) {
	if bytes.Contains(body, []byte("<Error>")) {
		var errDoc errorResponse
		if xml.Unmarshal(body, &errDoc) == nil && errDoc.Code != "" {
			return nil, errors.Newf(errors.ErrCodeServiceError,
				"CompleteMultipartUpload failed: %s: %s", errDoc.Code, errDoc.Message).
				WithStatus(200).WithBody(body)
		}
	}
	var result completeMultipartUploadResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, errors.Newf(errors.ErrCodeInternalError,
			"parsing CompleteMultipartUploadResult: %v", err).WithCause(err)
	}
	return &result, nil
}
