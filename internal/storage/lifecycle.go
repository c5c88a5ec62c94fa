package storage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/littlehero/api/internal/model"
)

const day = 24 * time.Hour

// ExpirationDays converts a retention to S3's whole-day granularity.
func ExpirationDays(d time.Duration) (int32, error) {
	if d < day || d%day != 0 {
		return 0, fmt.Errorf("%w: expiration %s is not a whole number of days", ErrPolicyRejected, d)
	}
	return int32(d / day), nil
}

// ApplyLifecycleRule registers rule, replacing any rule with the same ID.
// The bucket configuration is read, modified and written back; nothing is
// written when an identical rule is already present.
func (g *Gateway) ApplyLifecycleRule(ctx context.Context, rule LifecycleRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is empty", ErrPolicyRejected)
	}
	days, err := ExpirationDays(rule.Expiration)
	if err != nil {
		return err
	}
	if rule.Category != "" && g.untagged {
		return fmt.Errorf("%w: rule %s filters on the %s tag, which this provider does not support", ErrPolicyRejected, rule.ID, CategoryTag)
	}

	current, err := g.lifecycleRules(ctx)
	if err != nil {
		return err
	}

	desired := toS3Rule(rule, days)
	idx := slices.IndexFunc(current, func(r types.LifecycleRule) bool { return aws.ToString(r.ID) == rule.ID })
	if idx >= 0 {
		if existing, ok := fromS3Rule(current[idx]); ok && existing == rule {
			return nil
		}
		current[idx] = desired
	} else {
		current = append(current, desired)
	}

	_, err = g.api.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket:                 aws.String(g.bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{Rules: current},
	})
	return translatePolicy("put-lifecycle", rule.ID, err)
}

// RemoveLifecycleRule deletes the rule with id. Removing an absent rule
// succeeds.
func (g *Gateway) RemoveLifecycleRule(ctx context.Context, id string) error {
	current, err := g.lifecycleRules(ctx)
	if err != nil {
		return err
	}

	before := len(current)
	remaining := slices.DeleteFunc(current, func(r types.LifecycleRule) bool { return aws.ToString(r.ID) == id })
	if len(remaining) == before {
		return nil
	}

	if len(remaining) == 0 {
		_, err = g.api.DeleteBucketLifecycle(ctx, &s3.DeleteBucketLifecycleInput{Bucket: aws.String(g.bucket)})
		return translatePolicy("delete-lifecycle", id, err)
	}

	_, err = g.api.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket:                 aws.String(g.bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{Rules: remaining},
	})
	return translatePolicy("put-lifecycle", id, err)
}

// LifecycleRules returns the rules this gateway understands. Rules it did
// not write (no expiration in days) are skipped.
func (g *Gateway) LifecycleRules(ctx context.Context) ([]LifecycleRule, error) {
	current, err := g.lifecycleRules(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]LifecycleRule, 0, len(current))
	for _, r := range current {
		if rule, ok := fromS3Rule(r); ok {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (g *Gateway) lifecycleRules(ctx context.Context) ([]types.LifecycleRule, error) {
	out, err := g.api.GetBucketLifecycleConfiguration(ctx, &s3.GetBucketLifecycleConfigurationInput{
		Bucket: aws.String(g.bucket),
	})
	if err != nil {
		if apiCode(err) == "NoSuchLifecycleConfiguration" {
			return nil, nil
		}
		return nil, translate("get-lifecycle", g.bucket, err)
	}
	return out.Rules, nil
}

func toS3Rule(rule LifecycleRule, days int32) types.LifecycleRule {
	filter := &types.LifecycleRuleFilter{Prefix: aws.String(rule.Prefix)}
	if rule.Category != "" {
		filter = &types.LifecycleRuleFilter{
			And: &types.LifecycleRuleAndOperator{
				Prefix: aws.String(rule.Prefix),
				Tags: []types.Tag{{
					Key:   aws.String(CategoryTag),
					Value: aws.String(string(rule.Category)),
				}},
			},
		}
	}
	return types.LifecycleRule{
		ID:         aws.String(rule.ID),
		Status:     types.ExpirationStatusEnabled,
		Filter:     filter,
		Expiration: &types.LifecycleExpiration{Days: aws.Int32(days)},
	}
}

func fromS3Rule(r types.LifecycleRule) (LifecycleRule, bool) {
	if r.Status != types.ExpirationStatusEnabled || r.Expiration == nil || r.Expiration.Days == nil {
		return LifecycleRule{}, false
	}
	rule := LifecycleRule{
		ID:         aws.ToString(r.ID),
		Expiration: time.Duration(aws.ToInt32(r.Expiration.Days)) * day,
	}
	if f := r.Filter; f != nil {
		switch {
		case f.And != nil:
			rule.Prefix = aws.ToString(f.And.Prefix)
			for _, t := range f.And.Tags {
				if aws.ToString(t.Key) == CategoryTag {
					rule.Category = model.AssetCategory(aws.ToString(t.Value))
				}
			}
		case f.Tag != nil:
			if aws.ToString(f.Tag.Key) == CategoryTag {
				rule.Category = model.AssetCategory(aws.ToString(f.Tag.Value))
			}
		default:
			rule.Prefix = aws.ToString(f.Prefix)
		}
	}
	return rule, true
}
