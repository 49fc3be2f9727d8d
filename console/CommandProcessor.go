package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/HuzefaGadi/echowand/echonet_lite"
	"github.com/HuzefaGadi/echowand/echonet_lite/network"
	"github.com/HuzefaGadi/echowand/echonet_lite/service"
)

// ErrQuit は quit コマンドを実行したときに返る
var ErrQuit = errors.New("quit")

// CommandProcessor はコマンドを Service の操作に変換して実行し、結果を out に書く
type CommandProcessor struct {
	service *service.Service
	out     io.Writer
}

func NewCommandProcessor(s *service.Service, out io.Writer) *CommandProcessor {
	return &CommandProcessor{service: s, out: out}
}

func (p *CommandProcessor) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

// Execute はコマンドを1つ実行する。応答を待つコマンドは完了するか ctx が終わるまで戻らない
func (p *CommandProcessor) Execute(ctx context.Context, cmd *Command) error {
	switch cmd.Type {
	case CmdQuit:
		return ErrQuit
	case CmdHelp:
		return p.processHelp(cmd.Topic)
	case CmdDiscover:
		return p.processDiscover(ctx)
	case CmdNodes:
		p.processNodes(cmd)
		return nil
	case CmdGet:
		return p.processRequest(ctx, cmd, func(node network.Node) (*service.Result, error) {
			return p.service.DoGet(node, cmd.EOJ, cmd.EPCs...)
		})
	case CmdSet:
		return p.processRequest(ctx, cmd, func(node network.Node) (*service.Result, error) {
			return p.service.DoSet(node, cmd.EOJ, cmd.Properties, !cmd.NoResponse)
		})
	case CmdSetGet:
		return p.processRequest(ctx, cmd, func(node network.Node) (*service.Result, error) {
			return p.service.DoSetGet(node, cmd.EOJ, cmd.Properties, cmd.EPCs)
		})
	case CmdInfReq:
		return p.processRequest(ctx, cmd, func(node network.Node) (*service.Result, error) {
			return p.service.DoInfRequest(node, cmd.EOJ, cmd.EPCs...)
		})
	case CmdLocal:
		return p.processLocal(cmd)
	case CmdAnnounce:
		return p.processAnnounce(cmd)
	case CmdObserve:
		return p.processObserve(ctx, cmd)
	case CmdCapture:
		return p.processCapture(ctx, cmd)
	case CmdTimeout:
		if cmd.Duration > 0 {
			p.service.SetTimeout(cmd.Duration)
		}
		p.printf("timeout: %v\n", p.service.Timeout())
		return nil
	}
	return fmt.Errorf("unsupported command type: %d", cmd.Type)
}

// resolveNode はノード名を Node に変換する。検出済みノードの表記とサブネットの名前解決の両方を受け付ける
func (p *CommandProcessor) resolveNode(name string) (network.Node, error) {
	if name == GroupNodeName {
		return p.service.GroupNode(), nil
	}
	if n, ok := p.service.Core().RemoteNodes().Get(name); ok {
		return n.Node, nil
	}
	return p.service.RemoteNode(name)
}

func (p *CommandProcessor) processHelp(topic string) error {
	if topic == "" {
		for _, def := range CommandTable {
			p.printf("  %-10s %s\n", def.Name, def.Summary)
		}
		p.printf("help <command> で詳細を表示します\n")
		return nil
	}
	def, ok := lookupCommand(topic)
	if !ok {
		return fmt.Errorf("unknown command: %s", topic)
	}
	p.printf("%s\n  %s\n", def.Summary, def.Syntax)
	if len(def.Aliases) > 0 {
		p.printf("  別名: %s\n", strings.Join(def.Aliases, ", "))
	}
	for _, line := range def.Description {
		p.printf("    %s\n", line)
	}
	return nil
}

func (p *CommandProcessor) processDiscover(ctx context.Context) error {
	result, err := p.service.DoUpdateRemoteInfo()
	if err != nil {
		return err
	}
	if err := result.JoinContext(ctx); err != nil {
		return err
	}
	nodes := result.Nodes()
	for _, n := range nodes {
		p.printRemoteNode(n)
	}
	p.printf("%d node(s) found\n", len(nodes))
	return nil
}

func (p *CommandProcessor) printRemoteNode(n service.RemoteNode) {
	eojs := make([]string, len(n.EOJs))
	for i, eoj := range n.EOJs {
		eojs[i] = eoj.Specifier()
	}
	p.printf("%s: %s\n", n.Node, strings.Join(eojs, " "))
}

func (p *CommandProcessor) processNodes(cmd *Command) {
	var nodes []service.RemoteNode
	if cmd.HasEOJ {
		nodes = p.service.Core().RemoteNodes().Find(cmd.EOJ)
	} else {
		nodes = p.service.RemoteNodes()
	}
	for _, n := range nodes {
		p.printRemoteNode(n)
	}
}

func (p *CommandProcessor) processRequest(ctx context.Context, cmd *Command, do func(node network.Node) (*service.Result, error)) error {
	node, err := p.resolveNode(cmd.Node)
	if err != nil {
		return err
	}
	result, err := do(node)
	if err != nil {
		return err
	}
	if err := result.JoinContext(ctx); err != nil {
		return err
	}
	for _, req := range result.Requests() {
		if !req.Success {
			return fmt.Errorf("failed to send request to %v", req.Frame.Receiver)
		}
	}
	frames := result.Frames()
	if len(frames) == 0 {
		if cmd.Type == CmdSet && cmd.NoResponse {
			p.printf("sent\n")
		} else {
			p.printf("no response\n")
		}
		return nil
	}
	for _, f := range frames {
		p.printFrame("", f.Frame)
	}
	return nil
}

// printFrame はフレームを1行目に概要、以降にプロパティという形で出力する
func (p *CommandProcessor) printFrame(prefix string, frame network.Frame) {
	msg := frame.Message
	if msg == nil {
		return
	}
	p.printf("%s%v -> %v [TID=%04X] %v %v\n", prefix, frame.Sender, frame.Receiver, uint16(msg.TID), msg.SEOJ.Specifier(), msg.ESV)
	for _, prop := range msg.Properties {
		p.printf("  %v: %X\n", prop.EPC, prop.EDT)
	}
	if msg.ESV.ISSetGet() {
		for _, prop := range msg.SetGetProperties {
			p.printf("  (get) %v: %X\n", prop.EPC, prop.EDT)
		}
	}
}

func (p *CommandProcessor) processLocal(cmd *Command) error {
	if !cmd.HasEOJ {
		for _, eoj := range p.service.LocalEOJs() {
			p.printf("%s %s\n", eoj.Specifier(), eoj.ClassCode())
		}
		return nil
	}
	epcs := cmd.EPCs
	if len(epcs) == 0 {
		epcs = []echonet_lite.EPCType{echonet_lite.EPCGetPropertyMap}
	}
	for _, epc := range epcs {
		props, err := p.service.LocalData(cmd.EOJ, epc)
		if err != nil {
			return err
		}
		for _, prop := range props {
			p.printf("%v: %X\n", prop.EPC, prop.EDT)
		}
	}
	return nil
}

func (p *CommandProcessor) processAnnounce(cmd *Command) error {
	for _, prop := range cmd.Properties {
		if err := p.service.SetLocalData(cmd.EOJ, prop); err != nil {
			return err
		}
	}
	return nil
}

func (p *CommandProcessor) processObserve(ctx context.Context, cmd *Command) error {
	var matcher service.FrameMatcher
	if cmd.Node != "" {
		node, err := p.resolveNode(cmd.Node)
		if err != nil {
			return err
		}
		matcher.Nodes = []network.Node{node}
	}
	if cmd.HasEOJ {
		matcher.EOJs = []echonet_lite.EOJ{cmd.EOJ}
	}
	matcher.EPCs = cmd.EPCs

	observe := p.service.DoObserve(matcher)
	defer observe.StopObserve()

	timer := time.NewTimer(cmd.Duration)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			p.printf("%d notification(s) observed\n", len(observe.Frames()))
			return nil
		case f, ok := <-observe.Updates():
			if !ok {
				return nil
			}
			p.printFrame(f.Time.Format("15:04:05.000 "), f.Frame)
		}
	}
}

func (p *CommandProcessor) processCapture(ctx context.Context, cmd *Command) error {
	capture := p.service.DoCapture()
	timer := time.NewTimer(cmd.Duration)
	defer timer.Stop()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
	}
	capture.StopCapture()

	local := p.service.Core().Subnet().LocalNode()
	for _, f := range capture.Frames() {
		direction := "recv"
		if f.Frame.Sender == local {
			direction = "sent"
		}
		p.printFrame(f.Time.Format("15:04:05.000 ")+direction+" ", f.Frame)
	}
	p.printf("%d sent, %d received\n", len(capture.SentFrames()), len(capture.ReceivedFrames()))
	return err
}
