package main

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"attachr/internal/service"
)

func TestRootCmd_PassesFlags(t *testing.T) {
	var got service.ReprocessParams
	run := func(ctx context.Context, p service.ReprocessParams) (service.ReprocessReport, error) {
		got = p
		return service.ReprocessReport{Processed: 2, Failed: 1, Failures: []service.ReprocessFailure{{
			Class: "User", RecordID: "3", Name: "avatar", Error: "boom",
		}}}, nil
	}

	var out bytes.Buffer
	cmd := newRootCmd(run, &out)
	cmd.SetArgs([]string{"--class", "User", "--name", "avatar", "--styles", "thumb,medium", "--batch-size", "10"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := service.ReprocessParams{Class: "User", Name: "avatar", Styles: []string{"thumb", "medium"}, BatchSize: 10}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected params %+v", got)
	}
	if !strings.Contains(out.String(), "processed: 2") || !strings.Contains(out.String(), "User#3 avatar: boom") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRootCmd_JSONAndFailOnErrors(t *testing.T) {
	run := func(ctx context.Context, p service.ReprocessParams) (service.ReprocessReport, error) {
		return service.ReprocessReport{Failed: 1}, nil
	}
	var out bytes.Buffer
	cmd := newRootCmd(run, &out)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--json", "--fail-on-errors"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected error when failures present")
	}

	var report service.ReprocessReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRootCmd_RejectsArgs(t *testing.T) {
	cmd := newRootCmd(nil, &bytes.Buffer{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"extra"})
	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected error for positional args")
	}
}
