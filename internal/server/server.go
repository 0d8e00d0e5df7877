package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"ocr-service/internal/auth"
	"ocr-service/internal/models"
	"ocr-service/internal/service"
)

type Server struct {
	cfg    *models.Config
	router *gin.Engine
	svc    *service.Service
}

func NewServer(cfg *models.Config, svc *service.Service, tokens *auth.Manager, users auth.UserGetter) *Server {
	r := gin.Default()
	r.Use(cors.Default())

	s := &Server{cfg: cfg, router: r, svc: svc}

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)

	authGroup := r.Group("/auth")
	authGroup.POST("/register", s.handleRegister)
	authGroup.POST("/login", s.handleLogin)

	api := r.Group("/", auth.Middleware(tokens, users))
	api.POST("/upload", s.handleUpload)
	api.POST("/doc_analyse", s.handleAnalyse)
	api.GET("/doc_get_text/:image_id", s.handleGetText)
	api.DELETE("/doc_delete/:image_id", s.handleDelete)
	api.GET("/status/:task_id", s.handleStatus)

	return s
}

func (s *Server) Start() error {
	return s.router.Run(s.cfg.ServerAddr)
}

func (s *Server) Stop() {
	// No shutdown needed for gin
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "OCR Service API",
		"version": "1.0.0",
		"endpoints": gin.H{
			"register":    "POST /auth/register - register with email and password",
			"login":       "POST /auth/login - obtain a bearer token",
			"upload":      "POST /upload - upload an image",
			"doc_analyse": "POST /doc_analyse - start OCR analysis",
			"get_text":    "GET /doc_get_text/{image_id} - fetch the OCR result",
			"delete":      "DELETE /doc_delete/{image_id} - delete an image",
			"status":      "GET /status/{task_id} - task status",
		},
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type credentials struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
	// OAuth2 password-flow clients send the email as "username".
	Username string `form:"username" json:"username"`
}

func (cr *credentials) email() string {
	if cr.Email != "" {
		return cr.Email
	}
	return cr.Username
}

func (s *Server) handleRegister(c *gin.Context) {
	var creds credentials
	if err := c.ShouldBind(&creds); err != nil || creds.email() == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}

	user, err := s.svc.Register(c.Request.Context(), creds.email(), creds.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) handleLogin(c *gin.Context) {
	var creds credentials
	if err := c.ShouldBind(&creds); err != nil || creds.email() == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}

	token, err := s.svc.Login(c.Request.Context(), creds.email(), creds.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

func (s *Server) handleUpload(c *gin.Context) {
	userID := auth.CurrentUserID(c)

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file provided"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not open uploaded file"})
		return
	}
	defer src.Close()

	// The core only deals in raw bytes; the multipart stream is resolved
	// here at the boundary.
	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read uploaded file"})
		return
	}

	result, err := s.svc.Upload(c.Request.Context(), data, file.Filename, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "File uploaded successfully",
		"image_id":  result.ImageID,
		"filename":  result.Filename,
		"next_step": "Use /doc_analyse to start OCR processing",
	})
}

func (s *Server) handleAnalyse(c *gin.Context) {
	userID := auth.CurrentUserID(c)

	var req struct {
		ImageID int64 `form:"image_id" json:"image_id"`
	}
	if err := c.ShouldBind(&req); err != nil || req.ImageID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image_id required"})
		return
	}

	result, err := s.svc.Analyse(c.Request.Context(), req.ImageID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task_id":  result.TaskID,
		"image_id": result.ImageID,
		"status":   result.Status,
		"message":  "OCR processing started",
	})
}

func (s *Server) handleGetText(c *gin.Context) {
	userID := auth.CurrentUserID(c)

	imageID, err := strconv.ParseInt(c.Param("image_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}

	result, err := s.svc.GetText(c.Request.Context(), imageID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDelete(c *gin.Context) {
	userID := auth.CurrentUserID(c)

	imageID, err := strconv.ParseInt(c.Param("image_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}

	result, err := s.svc.Delete(c.Request.Context(), imageID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.TaskStatus(c.Param("task_id")))
}

var errorStatus = []struct {
	sentinel error
	code     int
}{
	{service.ErrValidation, http.StatusBadRequest},
	{service.ErrUnauthorized, http.StatusUnauthorized},
	{service.ErrForbidden, http.StatusForbidden},
	{service.ErrNotFound, http.StatusNotFound},
	{service.ErrUnavailable, http.StatusServiceUnavailable},
}

func respondError(c *gin.Context, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.sentinel) {
			msg := strings.TrimPrefix(err.Error(), e.sentinel.Error())
			msg = strings.TrimPrefix(msg, ": ")
			if msg == "" {
				msg = e.sentinel.Error()
			}
			c.JSON(e.code, gin.H{"error": msg})
			return
		}
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
