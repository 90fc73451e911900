package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/supervisor-finder/internal/store"
)

var (
	selectProfilePath    string
	selectRegions        []string
	selectCountries      []string
	selectKeywords       []string
	selectMinRank        int
	selectMaxRank        int
	selectTarget         int
	selectPerInstitution int
	selectRefresh        bool
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Rescore stored supervisors and print a diverse top-N selection",
	RunE: func(cmd *cobra.Command, args []string) error {
		if selectTarget > 0 {
			cfg.Select.Target = selectTarget
		}
		if selectPerInstitution > 0 {
			cfg.Select.MaxPerInstitution = selectPerInstitution
		}
		if err := cfg.Validate("select"); err != nil {
			return err
		}

		ctx := cmd.Context()
		profile, err := loadProfile(selectProfilePath)
		if err != nil {
			return err
		}

		repo, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer repo.Close() //nolint:errcheck

		sel, err := newSelector(repo, selectRefresh).Select(ctx, *profile, store.Filter{
			Regions:   selectRegions,
			Countries: selectCountries,
			Keywords:  selectKeywords,
			MinRank:   selectMinRank,
			MaxRank:   selectMaxRank,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sel)
	},
}

func init() {
	selectCmd.Flags().StringVar(&selectProfilePath, "profile", "", "research profile YAML file (default from config)")
	selectCmd.Flags().StringSliceVar(&selectRegions, "region", nil, "restrict to regions (repeatable)")
	selectCmd.Flags().StringSliceVar(&selectCountries, "country", nil, "restrict to countries (repeatable)")
	selectCmd.Flags().StringSliceVar(&selectKeywords, "keyword", nil, "require a stored keyword containing this text (repeatable)")
	selectCmd.Flags().IntVar(&selectMinRank, "min-rank", 0, "lowest institution rank ordinal to include")
	selectCmd.Flags().IntVar(&selectMaxRank, "max-rank", 0, "highest institution rank ordinal to include")
	selectCmd.Flags().IntVar(&selectTarget, "target", 0, "number of supervisors to select (default from config)")
	selectCmd.Flags().IntVar(&selectPerInstitution, "per-institution", 0, "cap per institution (default from config)")
	selectCmd.Flags().BoolVar(&selectRefresh, "refresh", false, "regenerate keywords for records stored without any")
	rootCmd.AddCommand(selectCmd)
}
