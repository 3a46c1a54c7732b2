package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SlpAus/agm-voting-backend/internal/event"
)

// rosterFile 是 seed 命令读取的YAML文件格式
type rosterFile struct {
	Title    string `yaml:"title"`
	Segments []struct {
		Name       string   `yaml:"name"`
		Candidates []string `yaml:"candidates"`
	} `yaml:"segments"`
	Voters []struct {
		Given  string `yaml:"given"`
		Family string `yaml:"family"`
	} `yaml:"voters"`
}

func parseRoster(r io.Reader) (event.RosterSpec, error) {
	var f rosterFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return event.RosterSpec{}, fmt.Errorf("解析名单文件失败: %w", err)
	}
	if strings.TrimSpace(f.Title) == "" {
		return event.RosterSpec{}, errors.New("名单文件缺少 title")
	}

	spec := event.RosterSpec{Title: strings.TrimSpace(f.Title)}
	for _, s := range f.Segments {
		if strings.TrimSpace(s.Name) == "" {
			return event.RosterSpec{}, errors.New("栏目缺少 name")
		}
		spec.Segments = append(spec.Segments, event.SegmentSpec{Name: s.Name, Candidates: s.Candidates})
	}
	for i, v := range f.Voters {
		if strings.TrimSpace(v.Given) == "" || strings.TrimSpace(v.Family) == "" {
			return event.RosterSpec{}, fmt.Errorf("第 %d 个选民缺少姓名", i+1)
		}
		spec.Voters = append(spec.Voters, [2]string{v.Given, v.Family})
	}
	return spec, nil
}
