package bridge

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/xferlab/xferbridge/internal/protocol"
	"github.com/xferlab/xferbridge/internal/session"
)

// RegisterRoutes mounts the transfer surface plus liveness probes onto
// the router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/connect", s.handleConnect)
	r.GET("/list", s.handleList)
	r.GET("/list-recursive", s.handleListRecursive)
	r.GET("/download", s.handleDownload)
	r.POST("/upload", s.handleUpload)
	r.POST("/delete", s.handleDelete)
	r.POST("/disconnect", s.handleDisconnect)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready", "sessions": s.registry.Len()})
	})
}

type connectBody struct {
	Server   string `json:"server"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Path     string `json:"path"`
	Protocol string `json:"protocol"`
	IsAdmin  bool   `json:"isAdmin"`
}

func (s *Service) handleConnect(c *gin.Context) {
	var body connectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeStatus(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Server == "" || body.Username == "" || body.Password == "" {
		writeStatus(c, http.StatusBadRequest, "server, username and password are required")
		return
	}

	res, err := s.Connect(ConnectRequest{
		Server:   body.Server,
		Port:     body.Port,
		Username: body.Username,
		Password: body.Password,
		Path:     body.Path,
		Protocol: body.Protocol,
		IsAdmin:  body.IsAdmin,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"sessionId": res.SessionID,
		"type":      string(res.Protocol),
		"files":     res.Files,
	})
}

func (s *Service) handleList(c *gin.Context) {
	id := c.Query("sessionId")
	if id == "" {
		writeStatus(c, http.StatusBadRequest, "sessionId is required")
		return
	}
	dir := c.Query("path")
	if dir == "" {
		dir = "."
	}
	files, err := s.List(id, dir)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "files": files})
}

func (s *Service) handleListRecursive(c *gin.Context) {
	id := c.Query("sessionId")
	if id == "" {
		writeStatus(c, http.StatusBadRequest, "sessionId is required")
		return
	}
	dir := c.Query("path")
	if dir == "" {
		dir = "."
	}
	files, err := s.ListRecursive(id, dir)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "files": files})
}

func (s *Service) handleDownload(c *gin.Context) {
	id := c.Query("sessionId")
	file := c.Query("file")
	if id == "" || file == "" {
		writeStatus(c, http.StatusBadRequest, "sessionId and file are required")
		return
	}

	err := s.Download(id, file, c.GetHeader("Range"), func(info DownloadInfo) io.Writer {
		header := c.Writer.Header()
		header.Set("Content-Type", "application/octet-stream")
		header.Set("Content-Disposition", attachmentDisposition(info.Name))
		header.Set("Content-Length", strconv.FormatInt(info.Size, 10))
		header.Set("Accept-Ranges", "bytes")
		if info.Ranged {
			header.Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", info.Offset, info.Offset+info.Size-1, info.TotalSize))
			c.Status(http.StatusPartialContent)
		} else {
			c.Status(http.StatusOK)
		}
		return c.Writer
	})
	if err != nil {
		// headers already sent means the response can only be aborted
		if c.Writer.Written() {
			log.Warn().Str("file", file).Err(err).Msg("download_aborted")
			c.Abort()
			return
		}
		writeError(c, err)
	}
}

func (s *Service) handleUpload(c *gin.Context) {
	id := c.PostForm("sessionId")
	if id == "" {
		writeStatus(c, http.StatusBadRequest, "sessionId is required")
		return
	}
	dir := c.PostForm("path")
	if dir == "" {
		dir = "."
	}
	fh, err := c.FormFile("file")
	if err != nil {
		writeStatus(c, http.StatusBadRequest, "multipart file field is required")
		return
	}
	if s.uploadMaxBytes > 0 && fh.Size > s.uploadMaxBytes {
		writeStatus(c, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the %d byte upload limit", s.uploadMaxBytes))
		return
	}

	tmp, err := os.CreateTemp("", "xferbridge-upload-*")
	if err != nil {
		writeStatus(c, http.StatusInternalServerError, "could not stage upload")
		return
	}
	tmpPath := tmp.Name()
	tmp.Close()
	if err := c.SaveUploadedFile(fh, tmpPath); err != nil {
		os.Remove(tmpPath)
		writeStatus(c, http.StatusInternalServerError, "could not stage upload")
		return
	}

	remote := path.Join(dir, filepath.Base(fh.Filename))
	if err := s.Upload(id, remote, tmpPath); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type deleteBody struct {
	SessionID   string `json:"sessionId"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"isDirectory"`
}

func (s *Service) handleDelete(c *gin.Context) {
	var body deleteBody
	if err := c.ShouldBindJSON(&body); err != nil || body.SessionID == "" || body.Path == "" {
		writeStatus(c, http.StatusBadRequest, "sessionId and path are required")
		return
	}
	if err := s.Delete(body.SessionID, body.Path, body.IsDirectory); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type disconnectBody struct {
	SessionID string `json:"sessionId"`
}

func (s *Service) handleDisconnect(c *gin.Context) {
	var body disconnectBody
	if err := c.ShouldBindJSON(&body); err != nil || body.SessionID == "" {
		writeStatus(c, http.StatusBadRequest, "sessionId is required")
		return
	}
	// idempotent: an unknown session still disconnects successfully
	s.Disconnect(body.SessionID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func writeStatus(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func writeError(c *gin.Context, err error) {
	writeStatus(c, statusFor(err), err.Error())
}

// statusFor maps the error taxonomy onto HTTP statuses. Unknown session
// ids are 404, connect failures 502, queue deadline misses 504 and
// malformed input 400; anything unclassified is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		return http.StatusNotFound
	case errors.Is(err, session.ErrOperationTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, protocol.ErrConnectionFailed):
		return http.StatusBadGateway
	case errors.Is(err, protocol.ErrUnsupportedProtocol), errors.Is(err, ErrMalformedRange):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsatisfiableRange):
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusInternalServerError
	}
}

// attachmentDisposition builds a safe Content-Disposition for name,
// stripping quotes and control bytes that could break the header.
func attachmentDisposition(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r == 0x7f || r == '"' || r == '\\' {
			continue
		}
		b.WriteRune(r)
	}
	clean := b.String()
	if clean == "" {
		clean = "download"
	}
	return `attachment; filename="` + clean + `"`
}
