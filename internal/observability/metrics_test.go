package observability

import (
	"testing"
	"time"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/list", 200, 12*time.Millisecond)
	RecordConnectAttempt("sftp", true)
	RecordConnectAttempt("ftp", false)
	RecordTransferBytes("download", "ftp", 4096)
	RecordTransferBytes("upload", "sftp", 0)
	SetActiveSessions(3)
}
