package notify

import "testing"

func TestRenderPresetsAndCustom(t *testing.T) {
	testCases := []struct {
		name      string
		channel   Channel
		alias     string
		wantTitle string
		wantBody  string
	}{
		{
			name:      "market with alias",
			channel:   Channel{DisguiseType: DisguiseMarket},
			alias:     " Alice ",
			wantTitle: "价格波动监控",
			wantBody:  "监控策略触发，请及时查看。\n来源: Alice",
		},
		{
			name:      "ops without alias",
			channel:   Channel{DisguiseType: "OPS"},
			wantTitle: "系统巡检提醒",
			wantBody:  "检测到新的巡检事件，请及时处理。",
		},
		{
			name:      "unknown falls back to market",
			channel:   Channel{DisguiseType: "weather"},
			wantTitle: "价格波动监控",
			wantBody:  "监控策略触发，请及时查看。",
		},
		{
			name:      "security",
			channel:   Channel{DisguiseType: DisguiseSecurity},
			alias:     "Bob",
			wantTitle: "安全策略告警",
			wantBody:  "检测到异常访问行为，请及时确认。\n来源: Bob",
		},
		{
			name:      "custom hides alias",
			channel:   Channel{DisguiseType: DisguiseCustom, CustomTitle: " Build ", CustomBody: "Pipeline finished"},
			alias:     "Alice",
			wantTitle: "Build",
			wantBody:  "Pipeline finished",
		},
		{
			name:      "custom fallbacks",
			channel:   Channel{DisguiseType: DisguiseCustom},
			alias:     "Alice",
			wantTitle: "监控提醒",
			wantBody:  "检测到新的监控事件，请及时处理。",
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			title, body := Render(testCase.channel, testCase.alias)
			if title != testCase.wantTitle || body != testCase.wantBody {
				t.Fatalf("expected (%q, %q), got (%q, %q)", testCase.wantTitle, testCase.wantBody, title, body)
			}
		})
	}
}

func TestNormalizers(t *testing.T) {
	if NormalizeProvider(" PushDeer ") != ProviderPushdeer {
		t.Fatalf("expected provider to be lowercased and trimmed")
	}
	if NormalizeProvider("telegram") != ProviderFeishu {
		t.Fatalf("expected unknown provider to fall back to feishu")
	}
	if NormalizeCooldown(-5) != 0 || NormalizeCooldown(100000) != MaxCooldownSeconds || NormalizeCooldown(30) != 30 {
		t.Fatalf("unexpected cooldown clamping")
	}
	channel := NewChannel(1, "u1", "nope", " https://hook ")
	if !channel.Enabled || !channel.NotifyChat || !channel.NotifyFeed || !channel.SkipWhenOnline {
		t.Fatalf("expected enabled defaults, got %+v", channel)
	}
	if channel.CooldownSeconds != DefaultCooldownSeconds || channel.DisguiseType != DisguiseMarket || channel.Target != "https://hook" {
		t.Fatalf("unexpected defaults %+v", channel)
	}
}
