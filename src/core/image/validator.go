package image

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	"papercut-studio-go/src/configs"
	"papercut-studio-go/src/core/utils"
)

// SecurityValidator 图片安全验证器，拦截超限、伪装格式与明显恶意的上传
type SecurityValidator struct {
	config *configs.SecurityConfig
	logger *utils.Logger
}

// NewSecurityValidator 创建新的图片安全验证器
func NewSecurityValidator(config *configs.SecurityConfig, logger *utils.Logger) *SecurityValidator {
	return &SecurityValidator{
		config: config,
		logger: logger,
	}
}

// 图片格式魔数签名
var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"jpg":  {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46}, // RIFF，需进一步检查WEBP标识
	"bmp":  {0x42, 0x4D},
}

// 可执行文件签名，只在文件开头检查
var executableSignatures = [][]byte{
	{0x4D, 0x5A},             // PE文件头 (MZ)
	{0x7F, 0x45, 0x4C, 0x46}, // ELF文件头
	{0xCA, 0xFE, 0xBA, 0xBE}, // Mach-O文件头
}

// ValidateImageData 验证图片数据
func (v *SecurityValidator) ValidateImageData(imageData ImageData) ValidationResult {
	result := ValidationResult{IsValid: false}

	if imageData.Data == "" {
		result.Error = fmt.Errorf("缺少图片数据")
		return result
	}

	imageBytes, err := base64.StdEncoding.DecodeString(imageData.Data)
	if err != nil {
		result.Error = fmt.Errorf("base64解码失败: %v", err)
		result.SecurityRisk = "无效的base64数据"
		return result
	}

	return v.deepValidateImage(imageBytes, imageData.Format)
}

// deepValidateImage 深度验证图片
func (v *SecurityValidator) deepValidateImage(data []byte, declaredFormat string) ValidationResult {
	result := ValidationResult{IsValid: false}

	// 1. 基础大小检查
	if int64(len(data)) > v.config.MaxFileSize {
		result.Error = fmt.Errorf("文件大小超限: %d bytes，最大允许: %d bytes", len(data), v.config.MaxFileSize)
		result.SecurityRisk = "文件过大"
		v.logger.Warn("检测到超大文件", map[string]interface{}{
			"size":     len(data),
			"max_size": v.config.MaxFileSize,
			"format":   declaredFormat,
		})
		return result
	}

	// 2. 格式支持检查
	if declaredFormat != "" && !v.isFormatAllowed(declaredFormat) {
		result.Error = fmt.Errorf("不支持的格式: %s", declaredFormat)
		result.SecurityRisk = "使用了不被允许的格式"
		return result
	}

	// 3. 可执行内容检测
	if v.config.EnableDeepScan && v.scanForExecutable(data) {
		result.Error = fmt.Errorf("检测到可执行文件签名")
		result.SecurityRisk = "可能包含恶意载荷"
		return result
	}

	// 4. 解码验证（最可靠的一道检查）
	decodeResult := v.validateImageDecoding(data, declaredFormat)
	if !decodeResult.IsValid {
		if declaredFormat != "" && !v.validateFileSignature(data, declaredFormat) {
			v.logger.Warn("文件头与声明格式不匹配", map[string]interface{}{
				"declared_format": declaredFormat,
				"actual_header":   fmt.Sprintf("%x", data[:min(len(data), 16)]),
			})
		}
	}
	return decodeResult
}

// validateFileSignature 验证文件头签名
func (v *SecurityValidator) validateFileSignature(data []byte, format string) bool {
	signature, exists := imageSignatures[strings.ToLower(format)]
	if !exists {
		return false
	}
	if len(data) < len(signature) {
		return false
	}
	if !bytes.HasPrefix(data, signature) {
		return false
	}

	// WEBP需要额外验证
	if strings.ToLower(format) == "webp" && len(data) >= 12 {
		return bytes.Equal(data[8:12], []byte("WEBP"))
	}
	return true
}

// isFormatAllowed 检查格式是否被允许
func (v *SecurityValidator) isFormatAllowed(format string) bool {
	formatLower := strings.ToLower(format)
	for _, allowed := range v.config.AllowedFormats {
		if strings.ToLower(allowed) == formatLower {
			return true
		}
	}
	return false
}

// scanForExecutable 检查文件开头是否为可执行文件
func (v *SecurityValidator) scanForExecutable(data []byte) bool {
	for _, signature := range executableSignatures {
		if bytes.HasPrefix(data, signature) {
			v.logger.Warn("文件开头检测到可执行文件签名", map[string]interface{}{
				"signature_hex": fmt.Sprintf("%x", signature),
			})
			return true
		}
	}
	return false
}

// validateImageDecoding 验证图片解码并检查尺寸限制
func (v *SecurityValidator) validateImageDecoding(data []byte, format string) ValidationResult {
	result := ValidationResult{Format: format}

	config, actualFormat, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		result.Error = fmt.Errorf("图片解码失败: %v", err)
		result.SecurityRisk = "可能是损坏或伪装的图片数据"
		return result
	}

	if actualFormat != "" {
		result.Format = actualFormat
	}

	if config.Width > v.config.MaxWidth || config.Height > v.config.MaxHeight {
		result.Error = fmt.Errorf("图片尺寸超限: %dx%d，最大允许: %dx%d",
			config.Width, config.Height, v.config.MaxWidth, v.config.MaxHeight)
		result.SecurityRisk = "图片过大，可能消耗过多资源"
		return result
	}

	totalPixels := int64(config.Width) * int64(config.Height)
	if totalPixels > v.config.MaxPixels {
		result.Error = fmt.Errorf("像素总数超限: %d，最大允许: %d", totalPixels, v.config.MaxPixels)
		result.SecurityRisk = "像素过多，可能导致内存耗尽"
		return result
	}

	result.IsValid = true
	result.Width = config.Width
	result.Height = config.Height
	result.FileSize = int64(len(data))

	v.logger.Debug("图片验证成功 %v", map[string]interface{}{
		"format": result.Format,
		"width":  result.Width,
		"height": result.Height,
		"size":   result.FileSize,
	})

	return result
}
