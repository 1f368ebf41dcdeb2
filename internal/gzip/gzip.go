package gzip

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
)

// compressWriter решает, сжимать ли ответ, при первой записи тела:
// к этому моменту хендлер уже выставил Content-Type.
type compressWriter struct {
	gin.ResponseWriter
	zw      *gzip.Writer
	started bool
}

func (c *compressWriter) start() {
	if c.started {
		return
	}
	c.started = true

	// потоковые ответы передаются без сжатия
	if strings.HasPrefix(c.Header().Get("Content-Type"), "text/event-stream") {
		return
	}
	c.Header().Del("Content-Length")
	c.Header().Set("Content-Encoding", "gzip")
	c.Header().Set("Vary", "Accept-Encoding")
	c.zw = gzip.NewWriter(c.ResponseWriter)
}

func (c *compressWriter) Write(p []byte) (int, error) {
	c.start()
	if c.zw == nil {
		return c.ResponseWriter.Write(p)
	}
	return c.zw.Write(p)
}

func (c *compressWriter) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}

func (c *compressWriter) Flush() {
	if c.zw != nil {
		c.zw.Flush()
	}
	c.ResponseWriter.Flush()
}

func (c *compressWriter) Close() error {
	if c.zw == nil {
		return nil
	}
	return c.zw.Close()
}

type compressReader struct {
	r  io.ReadCloser
	zr *gzip.Reader
}

func (c compressReader) Read(p []byte) (int, error) {
	return c.zr.Read(p)
}

func (c compressReader) Close() error {
	if err := c.r.Close(); err != nil {
		return err
	}
	return c.zr.Close()
}

// GzipMiddleware распаковывает тело запроса и сжимает ответ, если клиент это поддерживает.
// Ответы text/event-stream не сжимаются.
func GzipMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.Contains(c.GetHeader("Content-Encoding"), "gzip") {
			zr, err := gzip.NewReader(c.Request.Body)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.Request.Body = compressReader{r: c.Request.Body, zr: zr}
		}

		if !strings.Contains(c.GetHeader("Accept-Encoding"), "gzip") {
			c.Next()
			return
		}

		cw := &compressWriter{ResponseWriter: c.Writer}
		c.Writer = cw
		defer cw.Close()

		c.Next()
	}
}
