package errmap

// 门禁协议内置错误码映射表
var entropyErrorTable = map[uint32]ErrorInfo{
	0x0001: {InternalCode: "DOOR_SENSOR_FAULT", Severity: SeverityError, Description: "门磁传感器故障", RecommendedAction: "dispatch-maintenance"},
	0x0002: {InternalCode: "LOCK_DRIVER_FAULT", Severity: SeverityCritical, Description: "电锁驱动故障", RecommendedAction: "dispatch-maintenance"},
	0x0003: {InternalCode: "READER_OFFLINE", Severity: SeverityError, Description: "读卡器离线", RecommendedAction: "check-wiring"},
	0x0004: {InternalCode: "FACE_MODULE_FAULT", Severity: SeverityError, Description: "人脸识别模块故障", RecommendedAction: "restart-device"},
	0x0005: {InternalCode: "TAMPER_ALARM", Severity: SeverityCritical, Description: "设备防拆报警", RecommendedAction: "security-alert"},
	0x0006: {InternalCode: "DOOR_HELD_OPEN", Severity: SeverityWarning, Description: "门长时间未关闭", RecommendedAction: "notify-operator"},
	0x0007: {InternalCode: "STORAGE_FULL", Severity: SeverityWarning, Description: "本地记录存储已满", RecommendedAction: "sync-records"},
	0x0008: {InternalCode: "CLOCK_DRIFT", Severity: SeverityInfo, Description: "设备时钟漂移", RecommendedAction: "sync-time"},
	0x0009: {InternalCode: "BACKUP_BATTERY_LOW", Severity: SeverityWarning, Description: "备用电池电量低", RecommendedAction: "dispatch-maintenance"},
	0x000A: {InternalCode: "FIRMWARE_CORRUPT", Severity: SeverityCritical, Description: "固件校验失败", RecommendedAction: "reflash-firmware"},
}

// 消费协议内置错误码映射表
var zktecoErrorTable = map[uint32]ErrorInfo{
	0x1001: {InternalCode: "CARD_READ_FAULT", Severity: SeverityError, Description: "读卡失败", RecommendedAction: "check-reader"},
	0x1002: {InternalCode: "INSUFFICIENT_BALANCE", Severity: SeverityInfo, Description: "账户余额不足", RecommendedAction: "none"},
	0x1003: {InternalCode: "ACCOUNT_FROZEN", Severity: SeverityWarning, Description: "账户已冻结", RecommendedAction: "notify-operator"},
	0x1004: {InternalCode: "OFFLINE_RECORD_FULL", Severity: SeverityWarning, Description: "脱机记录存储已满", RecommendedAction: "sync-records"},
	0x1005: {InternalCode: "PRINTER_FAULT", Severity: SeverityWarning, Description: "小票打印机故障", RecommendedAction: "dispatch-maintenance"},
	0x1006: {InternalCode: "KEYPAD_FAULT", Severity: SeverityError, Description: "键盘故障", RecommendedAction: "dispatch-maintenance"},
	0x1007: {InternalCode: "AMOUNT_LIMIT_EXCEEDED", Severity: SeverityInfo, Description: "超出单笔消费限额", RecommendedAction: "none"},
	0x1008: {InternalCode: "DUPLICATE_TRANSACTION", Severity: SeverityWarning, Description: "疑似重复交易", RecommendedAction: "manual-investigate"},
	0x1009: {InternalCode: "SETTLEMENT_PENDING", Severity: SeverityInfo, Description: "待结算记录过多", RecommendedAction: "sync-records"},
	0x100A: {InternalCode: "SECURE_MODULE_FAULT", Severity: SeverityCritical, Description: "加密模块故障", RecommendedAction: "dispatch-maintenance"},
}
