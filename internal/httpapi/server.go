// Package httpapi is the HTTP upload front end.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loqalabs/loqa-lyrics/internal/config"
	"github.com/loqalabs/loqa-lyrics/internal/pipeline"
)

const serviceMessage = "SunoEscribe API is running"

type runner interface {
	Run(ctx context.Context, input string) pipeline.Result
}

// Options configures the router. Ready and Metrics are optional.
type Options struct {
	Upload  config.UploadConfig
	CORS    config.CORSConfig
	Debug   bool
	Runner  runner
	Ready   func(context.Context) error
	Metrics http.Handler
	Logger  *slog.Logger
}

type server struct {
	upload config.UploadConfig
	runner runner
	ready  func(context.Context) error
	logger *slog.Logger
}

// New builds the gin engine with the upload, health and metrics routes.
func New(opts Options) (*gin.Engine, error) {
	if opts.Runner == nil {
		return nil, errors.New("http api requires a pipeline runner")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.Upload.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &server{
		upload: opts.Upload,
		runner: opts.Runner,
		ready:  opts.Ready,
		logger: opts.Logger.With(slog.String("component", "http")),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(s.logger))
	engine.Use(cors.New(corsConfig(opts.CORS.AllowedOrigins)))

	engine.GET("/ping", s.handlePing)
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/readyz", s.handleReadyz)
	if opts.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	api := engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.OPTIONS("/transcribe", s.handlePreflight)
	api.POST("/transcribe", s.handleTranscribe)

	return engine, nil
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			return cfg
		}
	}
	if len(origins) == 0 {
		// no browser origins allowed; same-origin and non-browser clients still work
		cfg.AllowOriginFunc = func(string) bool { return false }
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func (s *server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *server) handleHealth(c *gin.Context) {
	_, err := os.Stat(s.upload.Dir)
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"message":           serviceMessage,
		"upload_dir":        s.upload.Dir,
		"upload_dir_exists": err == nil,
	})
}

func (s *server) handleHealthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *server) handleReadyz(c *gin.Context) {
	if s.ready != nil {
		if err := s.ready(c.Request.Context()); err != nil {
			c.String(http.StatusServiceUnavailable, "not ready: %v", err)
			return
		}
	}
	c.String(http.StatusOK, "ready")
}

func (s *server) handlePreflight(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "OK"})
}

func (s *server) handleTranscribe(c *gin.Context) {
	// multipart framing adds a little on top of the file itself
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.upload.MaxBytes+1<<20)

	file, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.reject(c, http.StatusRequestEntityTooLarge, s.tooLargeMessage())
			return
		}
		s.reject(c, http.StatusBadRequest, "Missing audio file upload")
		return
	}
	s.logger.Info("received transcription request", slog.String("filename", file.Filename), slog.Int64("size", file.Size))

	if file.Size > s.upload.MaxBytes {
		s.reject(c, http.StatusRequestEntityTooLarge, s.tooLargeMessage())
		return
	}
	if ct := file.Header.Get("Content-Type"); !strings.HasPrefix(ct, "audio/") {
		s.logger.Warn("invalid file type", slog.String("content_type", ct))
		s.reject(c, http.StatusBadRequest, "Please upload an audio file")
		return
	}

	path, err := s.stage(file)
	if err != nil {
		s.logger.Error("failed to save upload", slogError(err))
		c.JSON(http.StatusInternalServerError, gin.H{"transcription": "", "error": "Transcription failed: " + err.Error()})
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to clean up upload", slog.String("path", path), slogError(err))
		}
	}()

	res := s.runner.Run(c.Request.Context(), path)
	status, body := respond(res)
	c.JSON(status, body)
}

// respond maps a run result onto the upload endpoint's contract. Every
// failed run is a 500 so it never reads like an empty transcript.
func respond(res pipeline.Result) (int, gin.H) {
	switch {
	case res.Failed():
		return http.StatusInternalServerError, gin.H{"transcription": "", "error": res.Error}
	case res.Empty():
		return http.StatusOK, gin.H{"transcription": "", "error": res.Error}
	default:
		return http.StatusOK, gin.H{
			"transcription": res.Transcript,
			"language":      string(res.Language),
			"language_name": res.LanguageName,
		}
	}
}

// stage writes the upload under a random name, keeping the extension.
func (s *server) stage(file *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(s.upload.Dir, 0o755); err != nil {
		return "", err
	}
	name := strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ToLower(filepath.Ext(file.Filename))
	path := filepath.Join(s.upload.Dir, name)

	src, err := file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (s *server) tooLargeMessage() string {
	return fmt.Sprintf("File too large (max %dMB)", s.upload.MaxBytes/(1<<20))
}

func (s *server) reject(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func loggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("took", time.Since(start)))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
