package notify

import "strings"

const (
	customFallbackTitle = "监控提醒"
	customFallbackBody  = "检测到新的监控事件，请及时处理。"
	sourceLinePrefix    = "\n来源: "
)

type disguisePreset struct {
	title string
	body  string
}

var disguisePresets = map[string]disguisePreset{
	DisguiseMarket:   {title: "价格波动监控", body: "监控策略触发，请及时查看。"},
	DisguiseOps:      {title: "系统巡检提醒", body: "检测到新的巡检事件，请及时处理。"},
	DisguiseSecurity: {title: "安全策略告警", body: "检测到异常访问行为，请及时确认。"},
}

// Render produces the camouflaged title and body for a channel. Preset
// templates carry the sender alias as a source line; custom templates
// never reveal it.
func Render(channel Channel, senderAlias string) (string, string) {
	disguise := NormalizeDisguise(channel.DisguiseType)
	if disguise == DisguiseCustom {
		title := strings.TrimSpace(channel.CustomTitle)
		if title == "" {
			title = customFallbackTitle
		}
		body := strings.TrimSpace(channel.CustomBody)
		if body == "" {
			body = customFallbackBody
		}
		return title, body
	}

	preset := disguisePresets[disguise]
	body := preset.body
	if alias := strings.TrimSpace(senderAlias); alias != "" {
		body += sourceLinePrefix + alias
	}
	return preset.title, body
}
