// 设备模拟器。模拟一台熵基门禁设备完成注册、心跳与事件上报，
// 用于联调网关的TCP接入层
package main

import (
	"flag"
	"fmt"
	"net"
	"time"

	"github.com/ioe-dream/device-gateway/pkg/protocol"
)

var (
	serverAddr  = flag.String("server", "localhost:7054", "网关TCP地址")
	deviceID    = flag.String("device", "SIM-ENTROPY-01", "模拟设备SN")
	deviceModel = flag.String("model", "X100", "设备型号")
)

func main() {
	flag.Parse()

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		fmt.Printf("连接失败: %v\n", err)
		return
	}
	defer conn.Close()

	fmt.Printf("已连接到网关: %s\n", conn.RemoteAddr())

	codec := protocol.NewEntropyCodec()
	seq := uint32(1)

	// 1. 设备注册
	register, err := codec.Build("REGISTER", map[string]interface{}{
		"sequenceNumber":  seq,
		"deviceModel":     *deviceModel,
		"firmwareVersion": "4.8.12",
		"capabilities":    uint32(0x0F),
	}, *deviceID)
	if err != nil {
		fmt.Printf("构造注册帧失败: %v\n", err)
		return
	}
	if !send(conn, "注册帧", register) {
		return
	}
	readResponse(conn)

	// 2. 周期心跳
	for i := 0; i < 3; i++ {
		time.Sleep(2 * time.Second)
		seq++

		heartbeat, err := codec.Build("HEARTBEAT", map[string]interface{}{
			"sequenceNumber":    seq,
			"heartbeatInterval": uint16(30),
			"uptime":            uint32(120 + i),
			"connectionStatus":  uint8(1),
			"temperature":       int16(265),
			"humidity":          int16(40),
		}, *deviceID)
		if err != nil {
			fmt.Printf("构造心跳帧失败: %v\n", err)
			return
		}
		if !send(conn, fmt.Sprintf("心跳帧 #%d", i+1), heartbeat) {
			return
		}
		readResponse(conn)
	}

	// 3. 上报一次门禁实时事件
	seq++
	event, err := codec.Build("REAL_TIME_EVENT", map[string]interface{}{
		"sequenceNumber":     seq,
		"eventType":          uint8(1),
		"eventNumber":        int64(1001),
		"userId":             uint32(42),
		"cardNumber":         "8800001234",
		"verifyMethod":       uint8(2),
		"verifyResult":       uint8(1),
		"faceConfidence":     uint16(982),
		"livenessResult":     uint8(1),
		"livenessConfidence": uint16(975),
		"accessPointId":      uint32(3),
		"direction":          uint8(0),
		"accessTime":         time.Now().Unix(),
	}, *deviceID)
	if err != nil {
		fmt.Printf("构造事件帧失败: %v\n", err)
		return
	}
	if !send(conn, "门禁事件帧", event) {
		return
	}
	readResponse(conn)

	fmt.Println("模拟设备流程完成")
}

func send(conn net.Conn, name string, frame []byte) bool {
	fmt.Printf("发送%s: %02X\n", name, frame)
	if _, err := conn.Write(frame); err != nil {
		fmt.Printf("发送%s失败: %v\n", name, err)
		return false
	}
	return true
}

func readResponse(conn net.Conn) {
	buffer := make([]byte, 1024)
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		fmt.Printf("设置读取超时失败: %v\n", err)
		return
	}
	n, err := conn.Read(buffer)
	if err != nil {
		fmt.Printf("读取响应失败: %v\n", err)
		return
	}
	fmt.Printf("收到网关应答: %02X\n", buffer[:n])
}
