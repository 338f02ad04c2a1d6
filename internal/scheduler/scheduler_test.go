package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "daily at 3am", expr: "0 3 * * *"},
		{name: "every 15 minutes", expr: "*/15 * * * *"},
		{name: "weekdays at midnight", expr: "0 0 * * 1-5"},
		{name: "descriptor", expr: "@hourly"},
		{name: "too few fields", expr: "0 3 * *", wantErr: true},
		{name: "bad syntax", expr: "invalid", wantErr: true},
		{name: "out of range", expr: "60 3 * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchedule(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSchedule() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNextSchedule(t *testing.T) {
	from := time.Date(2025, 1, 15, 2, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		expr     string
		from     time.Time
		wantTime time.Time
	}{
		{
			name:     "daily at 3am before scheduled time",
			expr:     "0 3 * * *",
			from:     from,
			wantTime: time.Date(2025, 1, 15, 3, 0, 0, 0, time.UTC),
		},
		{
			name:     "daily at 3am after scheduled time",
			expr:     "0 3 * * *",
			from:     time.Date(2025, 1, 15, 4, 0, 0, 0, time.UTC),
			wantTime: time.Date(2025, 1, 16, 3, 0, 0, 0, time.UTC),
		},
		{
			name:     "every 15 minutes",
			expr:     "*/15 * * * *",
			from:     from,
			wantTime: time.Date(2025, 1, 15, 2, 45, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextSchedule(tt.expr, tt.from)
			if err != nil {
				t.Fatalf("NextSchedule() error = %v", err)
			}
			if !got.Equal(tt.wantTime) {
				t.Errorf("NextSchedule() = %v, want %v", got, tt.wantTime)
			}
		})
	}
}

func TestScheduleInterval(t *testing.T) {
	from := time.Date(2025, 1, 15, 2, 30, 0, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Duration
	}{
		{expr: "0 3 * * *", want: 24 * time.Hour},
		{expr: "0 */6 * * *", want: 6 * time.Hour},
		{expr: "*/15 * * * *", want: 15 * time.Minute},
		{expr: "* * * * *", want: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ScheduleInterval(tt.expr, from)
			if err != nil {
				t.Fatalf("ScheduleInterval() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ScheduleInterval() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	if err := ValidateSchedule("0 3 * * *"); err != nil {
		t.Errorf("ValidateSchedule(daily) error = %v", err)
	}
	if err := ValidateSchedule("* * * * *"); err != nil {
		t.Errorf("ValidateSchedule(every minute) error = %v", err)
	}
	if err := ValidateSchedule("bogus"); err == nil {
		t.Error("ValidateSchedule(bogus) expected error")
	}
}

type everySchedule time.Duration

func (d everySchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

type neverSchedule struct{}

func (neverSchedule) Next(time.Time) time.Time { return time.Time{} }

func TestRunSchedule(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	runs := 0
	job := func(context.Context) error {
		runs++
		if runs == 1 {
			return errors.New("first run fails")
		}
		if runs == 3 {
			cancel()
		}
		return nil
	}

	err := RunSchedule(ctx, logr.Discard(), everySchedule(5*time.Millisecond), job)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunSchedule() error = %v, want context.Canceled", err)
	}
	if runs != 3 {
		t.Errorf("runs = %d, want 3", runs)
	}
}

func TestRunSchedule_NoFutureRuns(t *testing.T) {
	err := RunSchedule(context.Background(), logr.Discard(), neverSchedule{}, func(context.Context) error {
		t.Fatal("job must not run")
		return nil
	})
	if err == nil {
		t.Fatal("RunSchedule() expected error")
	}
}

func TestRun_InvalidExpression(t *testing.T) {
	err := Run(context.Background(), logr.Discard(), "nope", func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("Run() expected error")
	}
}
