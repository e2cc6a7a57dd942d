package auth

import "testing"

func TestAuthToken(t *testing.T) {
	at := NewAuthToken("test-secret")

	t.Run("签发后可验证并还原客户端ID", func(t *testing.T) {
		token, err := at.GenerateToken("client-42")
		if err != nil {
			t.Fatalf("GenerateToken失败: %v", err)
		}

		isValid, clientID, err := at.VerifyToken(token)
		if err != nil || !isValid {
			t.Fatalf("VerifyToken = %v, %v; want valid", isValid, err)
		}
		if clientID != "client-42" {
			t.Errorf("clientID = %q, want client-42", clientID)
		}
	})

	t.Run("错误密钥签发的令牌验证失败", func(t *testing.T) {
		other := NewAuthToken("other-secret")
		token, err := other.GenerateToken("client-42")
		if err != nil {
			t.Fatalf("GenerateToken失败: %v", err)
		}

		if isValid, _, _ := at.VerifyToken(token); isValid {
			t.Error("跨密钥令牌不应通过验证")
		}
	})

	t.Run("畸形令牌验证失败", func(t *testing.T) {
		if isValid, _, err := at.VerifyToken("not-a-jwt"); isValid || err == nil {
			t.Error("畸形令牌应报错")
		}
	})
}
