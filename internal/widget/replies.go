package widget

// Fixed assistant texts.
const (
	Greeting = "您好！我是集美发展停车场助理小集，能帮助您解决停车场相关的各种疑问和问题。如果您有停车咨询、费用查询、业务办理等需求，请随时告诉我，我会竭诚为您服务！"
	Apology  = "抱歉，我暂时无法为您处理这个问题，请您稍后再试或联系人工客服。感谢您的理解！"
)

// Toast messages.
const (
	MsgInitFailed  = "停车场助手初始化失败，请刷新页面重试"
	MsgSendFailed  = "消息发送失败，请检查网络后重试"
	MsgClearFailed = "清空对话失败，请刷新页面"
	MsgVoiceFailed = "语音识别失败，请重试"
	MsgMicFailed   = "无法访问麦克风，请检查权限设置"
)

// ImmediateReplies are shown shortly after the user sends a message.
var ImmediateReplies = []string{
	"小集已收到，正在帮你解决",
	"小集已收到您的问题，正在为您查询",
	"小集收到了，正在努力为您解答",
	"小集已接收到您的问题，正在处理中",
	"小集已收到，马上为您解决",
	"小集收到您的问题了，正在分析中",
	"小集已收到消息，正在为您处理",
	"小集已接收，正在努力解决您的问题",
}

// DelayedReplies are shown when the real answer is still pending after the
// long delay.
var DelayedReplies = []string{
	"请耐心等待一下，小集正在加急处理您的问题",
	"请稍等片刻，小集正在努力为您查找答案",
	"小集正在仔细分析您的问题，请稍候",
	"请您稍等，小集正在全力解决您的问题",
	"抱歉让您久等了，小集正在紧急处理中",
	"请耐心等候，小集正在为您寻找最佳解决方案",
	"小集正在认真处理您的问题，请稍等片刻",
	"请稍作等待，小集正在加快处理速度",
	"小集正在仔细核查信息，请您稍等",
	"请您耐心等待，小集正在尽快为您解答",
	"小集正在努力获取准确信息，请稍候",
}
