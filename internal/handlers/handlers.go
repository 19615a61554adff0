package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nimishamba325/Coral-reef/internal/derive"
	"github.com/nimishamba325/Coral-reef/internal/hub"
	"github.com/nimishamba325/Coral-reef/internal/inference"
	"github.com/nimishamba325/Coral-reef/internal/prediction"
	"github.com/nimishamba325/Coral-reef/internal/selection"
	"github.com/nimishamba325/Coral-reef/internal/workflow"
)

// DefaultMaxUploadSize applies when API.MaxUploadSize is zero.
const DefaultMaxUploadSize = 10 << 20

// UploadRedirect is where the front end sends the user when no image is
// selected.
const UploadRedirect = "/predict"

// DefaultThumbnailWidth is used when a thumbnail request omits w.
const DefaultThumbnailWidth = 256

// API bundles what the routes need.
type API struct {
	Store         *selection.Store
	Previews      selection.Registry
	Coordinator   *workflow.Coordinator
	Hub           *hub.Hub
	Logger        *zap.Logger
	MaxUploadSize int64
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// CORSConfig allows the browser front end to call the API. "*" allows any
// origin.
func CORSConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, api API) {
	if api.MaxUploadSize <= 0 {
		api.MaxUploadSize = DefaultMaxUploadSize
	}
	if api.Logger == nil {
		api.Logger = zap.NewNop()
	}
	logger := api.Logger.Named("http")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/api/models", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": prediction.Catalog()})
	})

	router.POST("/api/image", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, api.MaxUploadSize+1<<20)

		file, err := c.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image is too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > api.MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image is too large"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}
		if len(data) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is empty"})
			return
		}

		contentType := http.DetectContentType(data)
		if !strings.HasPrefix(contentType, "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "please upload an image file"})
			return
		}

		img, err := api.Store.SelectImage(c.Request.Context(), &selection.File{
			Name:        file.Filename,
			ContentType: contentType,
			Data:        data,
		})
		if err != nil {
			logger.Error("select image failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store the image"})
			return
		}

		c.JSON(http.StatusCreated, imageJSON(*img))
	})

	router.GET("/api/image", func(c *gin.Context) {
		img, ok := api.Store.Current()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no image selected", "redirect": UploadRedirect})
			return
		}
		c.JSON(http.StatusOK, imageJSON(img))
	})

	router.DELETE("/api/image", func(c *gin.Context) {
		if err := api.Store.ClearImage(c.Request.Context()); err != nil {
			// The selection is gone either way; only the handle release failed.
			logger.Warn("clear image reported an error", zap.Error(err))
		}
		c.Status(http.StatusNoContent)
	})

	router.GET(strings.TrimSuffix(selection.PreviewPath, "/")+"/:handle", func(c *gin.Context) {
		data, err := api.Previews.Open(c.Request.Context(), c.Param("handle"))
		if errors.Is(err, selection.ErrHandleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "preview not found"})
			return
		}
		if err != nil {
			logger.Error("open preview failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "preview unavailable"})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, http.DetectContentType(data), data)
	})

	router.GET(strings.TrimSuffix(selection.PreviewPath, "/")+"/:handle/thumbnail", func(c *gin.Context) {
		width, err := strconv.ParseUint(c.DefaultQuery("w", strconv.Itoa(DefaultThumbnailWidth)), 10, 32)
		if err != nil || width == 0 || width > selection.MaxThumbnailWidth {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid thumbnail width"})
			return
		}
		data, err := api.Previews.Open(c.Request.Context(), c.Param("handle"))
		if errors.Is(err, selection.ErrHandleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "preview not found"})
			return
		}
		if err != nil {
			logger.Error("open preview failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "preview unavailable"})
			return
		}
		thumb, err := selection.Thumbnail(data, uint(width))
		if errors.Is(err, selection.ErrUndecodable) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "preview cannot be scaled"})
			return
		}
		if err != nil {
			logger.Error("thumbnail failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "preview unavailable"})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/png", thumb)
	})

	router.POST("/api/result/:model", func(c *gin.Context) {
		state, err := api.Coordinator.Activate(c.Param("model"))
		if err != nil {
			respondWorkflowError(c, state, err)
			return
		}
		c.JSON(http.StatusAccepted, state)
	})

	router.GET("/api/result", func(c *gin.Context) {
		c.JSON(http.StatusOK, api.Coordinator.Snapshot())
	})

	router.POST("/api/retry", func(c *gin.Context) {
		state, err := api.Coordinator.Retry()
		if err != nil {
			respondWorkflowError(c, state, err)
			return
		}
		c.JSON(http.StatusAccepted, state)
	})

	router.GET("/api/result/chart.png", func(c *gin.Context) {
		state := api.Coordinator.Snapshot()
		if state.Phase != workflow.PhaseSucceeded || state.Metrics == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no result to chart", "phase": state.Phase})
			return
		}
		var buf bytes.Buffer
		if err := derive.RenderHealthChart(&buf, *state.Metrics, derive.DefaultChartWidth, derive.DefaultChartHeight); err != nil {
			logger.Error("render chart failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not render chart"})
			return
		}
		c.Data(http.StatusOK, "image/png", buf.Bytes())
	})

	if api.Hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			serveStateFeed(c, api.Hub, api.Coordinator, logger)
		})
	}
}

func respondWorkflowError(c *gin.Context, state workflow.State, err error) {
	switch {
	case errors.Is(err, workflow.ErrNoImage):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "redirect": UploadRedirect})
	case errors.Is(err, workflow.ErrNotFailed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "state": state})
	default:
		if kind, ok := inference.KindOf(err); ok && kind == inference.KindValidation {
			c.JSON(http.StatusBadRequest, gin.H{"error": inference.MessageOf(err)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func serveStateFeed(c *gin.Context, h *hub.Hub, coordinator *workflow.Coordinator, logger *zap.Logger) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(hub.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(hub.PongWait))
	})

	initial, err := json.Marshal(coordinator.Snapshot())
	if err != nil {
		logger.Error("encode initial state failed", zap.Error(err))
		initial = nil
	}
	h.Register(conn, initial)
	defer h.Unregister(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(hub.PongWait))
	}
}

func imageJSON(img selection.Image) gin.H {
	return gin.H{
		"id":           img.ID,
		"filename":     img.Filename,
		"content_type": img.ContentType,
		"size":         len(img.Data),
		"display_uri":  img.DisplayURI(),
		"selected_at":  img.SelectedAt,
	}
}
