package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"galaxy-chat/internal/service"
	"galaxy-chat/pkg/response"
)

// ImageHandler 图片生成处理器
type ImageHandler struct {
	imageService *service.ImageService
}

// NewImageHandler 创建 ImageHandler 实例
func NewImageHandler(imageService *service.ImageService) *ImageHandler {
	return &ImageHandler{imageService: imageService}
}

// GenerateImageRequest 图片生成请求
type GenerateImageRequest struct {
	Prompt string  `json:"prompt" binding:"required"`
	PairID *string `json:"pair_id"` // 关联的消息对，可选
}

// GenerateImage 根据提示词生成图片
// @Summary 生成图片
// @Tags 图片
// @Security Bearer
// @Accept json
// @Produce json
// @Param body body GenerateImageRequest true "提示词"
// @Success 201 {object} response.Response{data=model.GeneratedImage}
// @Router /api/v1/images [post]
func (h *ImageHandler) GenerateImage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req GenerateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "提示词不能为空")
		return
	}

	img, err := h.imageService.Generate(c.Request.Context(), userID, service.GenerateImageRequest{
		Prompt: req.Prompt,
		PairID: req.PairID,
	})
	if err != nil {
		writeError(c, err, "图片生成失败")
		return
	}
	response.Created(c, img)
}

// ListImages 获取最近生成的图片
// @Summary 图片列表
// @Tags 图片
// @Security Bearer
// @Produce json
// @Param limit query int false "数量" default(20)
// @Success 200 {object} response.Response{data=[]model.GeneratedImage}
// @Router /api/v1/images [get]
func (h *ImageHandler) ListImages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	images, err := h.imageService.List(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err, "获取图片列表失败")
		return
	}
	response.Success(c, gin.H{"images": images})
}
