// 协议帧解析工具。按帧头魔数识别厂商协议并解析十六进制帧，
// 用于排查设备报文问题
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ioe-dream/device-gateway/pkg/constants"
	"github.com/ioe-dream/device-gateway/pkg/protocol"
)

var (
	interactive = flag.Bool("i", false, "进入交互模式")
	hexData     = flag.String("hex", "", "要解析的十六进制帧")
)

func main() {
	flag.Parse()

	if *interactive {
		runInteractiveMode()
		return
	}
	if *hexData != "" {
		parseFrame(*hexData)
		return
	}

	fmt.Println("协议帧解析工具")
	fmt.Println("用法:")
	fmt.Println("  frame-parser -hex <十六进制帧>  - 解析指定的十六进制帧")
	fmt.Println("  frame-parser -i               - 进入交互模式")
}

func runInteractiveMode() {
	fmt.Println("协议帧解析工具 - 交互模式")
	fmt.Println("输入十六进制帧进行解析，输入 'exit' 或 'quit' 退出")
	fmt.Println("----------------------------------------")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		parseFrame(line)
	}
}

func parseFrame(hexStr string) {
	raw, err := protocol.HexToBytes(hexStr)
	if err != nil {
		fmt.Printf("十六进制字符串非法: %v\n", err)
		return
	}

	protocolType, ok := protocol.SniffProtocolType(raw)
	if !ok {
		fmt.Println("未知协议魔数，无法识别帧")
		return
	}

	var codec protocol.Codec
	switch protocolType {
	case constants.ProtocolTypeAccessEntropy:
		codec = protocol.NewEntropyCodec()
	default:
		codec = protocol.NewZktecoCodec()
	}

	msg, err := codec.Parse(raw, "")
	if err != nil {
		fmt.Printf("解析失败: %v\n", err)
		return
	}

	fmt.Printf("协议类型: %s\n", msg.ProtocolType)
	fmt.Printf("设备SN:   %s\n", msg.DeviceID)
	fmt.Printf("消息类型: 0x%02X (%s)\n", msg.MessageType, msg.MessageName)
	fmt.Printf("序列号:   %d\n", msg.Sequence)
	fmt.Printf("时间戳:   %s\n", msg.Timestamp.Format(constants.TimeFormatDefault))
	fmt.Printf("校验和:   %v\n", msg.ChecksumValid)
	if len(msg.Fields) > 0 {
		fmt.Println("业务字段:")
		for _, f := range msg.Fields {
			fmt.Printf("  %-22s %v\n", f.Key+":", f.Value)
		}
	}
}
