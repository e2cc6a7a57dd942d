package studio

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"papercut-studio-go/src/configs"
	"papercut-studio-go/src/core/image"
	"papercut-studio-go/src/core/pipeline"
	"papercut-studio-go/src/core/utils"
)

func newHubTestLogger(t *testing.T) *utils.Logger {
	t.Helper()
	cfg := &configs.Config{}
	cfg.Log.LogDir = t.TempDir()
	cfg.Log.LogFile = "test.log"
	logger, err := utils.NewLogger(cfg)
	if err != nil {
		t.Fatalf("创建测试日志器失败: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestProgressHubBroadcast(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewProgressHub(newHubTestLogger(t))
	defer hub.Close()

	router := gin.New()
	router.GET("/progress", hub.HandleWS)
	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/progress"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	defer conn.Close()

	// 升级握手完成后客户端才会进广播名单，轮询等登记生效
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.Lock()
		registered := len(hub.clients) > 0
		hub.mu.Unlock()
		if registered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("等待客户端登记超时")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(pipeline.Event{Stage: "isolate", LayerIndex: 2, Attempt: 3, Message: "不合规"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event pipeline.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("读取事件失败: %v", err)
	}
	if event.Stage != "isolate" || event.LayerIndex != 2 || event.Attempt != 3 {
		t.Errorf("事件内容异常: %+v", event)
	}
}

func TestLayerView(t *testing.T) {
	welded := &image.ImageData{Data: "iVBORw0KGgo=", Format: "png"}
	d := &pipeline.LayerDescriptor{
		Index:       2,
		State:       pipeline.StateReadyForApproval,
		Description: "蓝色前景块",
		WeldedImage: welded,
	}

	view := layerView(d)
	if view.Index != 2 || view.State != pipeline.StateReadyForApproval {
		t.Errorf("视图基础字段异常: %+v", view)
	}
	if !view.HasWeldedImage || view.HasIsolatedImage {
		t.Errorf("图片存在性标记异常: %+v", view)
	}
}
