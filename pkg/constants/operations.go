package constants

// BusinessDomain 业务域类型，决定业务分发器路由到哪个外部处理器
type BusinessDomain string

const (
	DomainAccess     BusinessDomain = "ACCESS"     // 门禁业务
	DomainAttendance BusinessDomain = "ATTENDANCE" // 考勤业务
	DomainConsume    BusinessDomain = "CONSUME"    // 消费业务
)

// 业务类型常量
const (
	BusinessTypeRealTimeEvent = "REAL_TIME_EVENT" // 实时事件上传
	BusinessTypeAccessVerify  = "ACCESS_VERIFY"   // 门禁验证
	BusinessTypeDoorControl   = "DOOR_CONTROL"    // 门控操作
	BusinessTypeAlarmEvent    = "ALARM_EVENT"     // 报警事件
	BusinessTypeAttendRecord  = "ATTEND_RECORD"   // 考勤记录
	BusinessTypeConsumeRecord = "CONSUME_RECORD"  // 消费记录（扣款，不可重试）
	BusinessTypeRechargeRec   = "RECHARGE_RECORD" // 充值记录（入账，不可重试）
	BusinessTypeSubsidyRecord = "SUBSIDY_RECORD"  // 补贴记录（入账，不可重试）
	BusinessTypeAccountQuery  = "ACCOUNT_QUERY"   // 账户查询（只读，可重试）
	BusinessTypeStatusReport  = "STATUS_REPORT"   // 设备状态上报（可重试）
	BusinessTypeStatusQuery   = "STATUS_QUERY"    // 状态查询（只读，可重试）
)

// 幂等业务类型集合。只有幂等操作允许分发器按策略自动重试；
// 改变账务的操作（消费扣款、充值、补贴）失败时直接上抛，
// 由设备/业务层自行保证至多一次语义。
var idempotentBusinessTypes = map[string]bool{
	BusinessTypeAccountQuery: true,
	BusinessTypeStatusReport: true,
	BusinessTypeStatusQuery:  true,
}

// IsIdempotentBusinessType 判断业务类型是否幂等
func IsIdempotentBusinessType(businessType string) bool {
	return idempotentBusinessTypes[businessType]
}

// 设备操作权限常量，供 ValidateDevicePermission 使用
const (
	OperationUploadEvent   = "UPLOAD_EVENT"   // 上传事件
	OperationUploadRecord  = "UPLOAD_RECORD"  // 上传业务记录
	OperationQueryAccount  = "QUERY_ACCOUNT"  // 查询账户
	OperationUpdateConfig  = "UPDATE_CONFIG"  // 修改设备配置
	OperationRemoteControl = "REMOTE_CONTROL" // 远程控制
)
